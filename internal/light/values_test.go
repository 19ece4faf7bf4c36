package light

import "testing"

func TestBrightnessDeviceRange(t *testing.T) {
	tests := []struct {
		in   Brightness
		want int
	}{
		{0, 0},
		{1, 254},
		{0.5, 127},
		{0.1375, 35},
		{-0.2, 0},
		{1.7, 254},
	}
	for _, tt := range tests {
		if got := tt.in.ToDevice(); got != tt.want {
			t.Errorf("Brightness(%v).ToDevice() = %d, want %d", tt.in, got, tt.want)
		}
	}
	if got := BrightnessFromDevice(254); got != 1 {
		t.Errorf("BrightnessFromDevice(254) = %v, want 1", got)
	}
}

func TestColorTemperatureMired(t *testing.T) {
	tests := []struct {
		kelvin ColorTemperature
		mired  int
	}{
		{2000, 500},
		{2700, 370},
		{4000, 250},
		{6500, 154},
		{0, 0},
	}
	for _, tt := range tests {
		if got := tt.kelvin.Mired(); got != tt.mired {
			t.Errorf("ColorTemperature(%d).Mired() = %d, want %d", tt.kelvin, got, tt.mired)
		}
	}
	if got := FromMired(250); got != 4000 {
		t.Errorf("FromMired(250) = %d, want 4000", got)
	}
}

func TestLadderSteps(t *testing.T) {
	l := Renard10
	if err := l.Validate(); err != nil {
		t.Fatalf("Renard10 invalid: %v", err)
	}
	if got := l.Above(0.1375); got != 6 {
		t.Errorf("Above(0.1375) = %d, want 6", got)
	}
	if got := l.Below(0.1375); got != 5 {
		t.Errorf("Below(0.1375) = %d, want 5", got)
	}
	if got := l.Above(0.1); got != 6 {
		t.Errorf("Above(0.1) = %d, want 6", got)
	}
	if got := l.Below(0.1); got != 4 {
		t.Errorf("Below(0.1) = %d, want 4", got)
	}
	if got := l.Above(1.0); got != l.Top() {
		t.Errorf("Above(1.0) = %d, want top", got)
	}
	if got := l.Below(0.005); got != 0 {
		t.Errorf("Below(0.005) = %d, want 0", got)
	}
	for _, tt := range []struct {
		b    Brightness
		want int
	}{{0.001, 0}, {0.12, 5}, {0.14, 6}, {0.5, 8}, {0.9, 10}, {2, 10}} {
		if got := l.Nearest(tt.b); got != tt.want {
			t.Errorf("Nearest(%v) = %d, want %d", tt.b, got, tt.want)
		}
	}
	if err := (Ladder{0.5, 0.2}).Validate(); err == nil {
		t.Error("descending ladder should be invalid")
	}
	if err := (Ladder{}).Validate(); err == nil {
		t.Error("empty ladder should be invalid")
	}
}

func TestParseInput(t *testing.T) {
	for _, name := range []string{"turn_on", "off", "toggle", "up", "decrease_brightness", "reset"} {
		if _, err := ParseInput(name); err != nil {
			t.Errorf("ParseInput(%q) error: %v", name, err)
		}
	}
	if _, err := ParseInput("explode"); err == nil {
		t.Error("ParseInput(explode) should fail")
	}
}
