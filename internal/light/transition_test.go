package light

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func env(baseline Brightness, now time.Time) Env {
	return Env{
		Baseline:       baseline,
		Now:            now,
		Ladder:         Renard10,
		DimmedLifetime: DefaultDimmedLifetime,
	}
}

func TestTransitionTable(t *testing.T) {
	custom := CustomInput(3000, 0.5)
	dimmedOff := DimmedOff(Dimmed(3), t0)

	tests := []struct {
		name  string
		from  State
		input Input
		want  State
	}{
		{"off/turn_on", Off(), TurnOn, Default()},
		{"off/toggle", Off(), Toggle, Default()},
		{"off/increase", Off(), IncreaseBrightness, Brightened(10)},
		{"off/decrease", Off(), DecreaseBrightness, Dimmed(0)},
		{"off/reset", Off(), Reset, Off()},
		{"off/turn_off", Off(), TurnOff, Off()},
		{"off/custom", Off(), custom, Custom(3000, 0.5)},

		{"default/decrease", Default(), DecreaseBrightness, Dimmed(8)},
		{"default/increase", Default(), IncreaseBrightness, Brightened(9)},
		{"default/turn_on", Default(), TurnOn, Brightened(9)},
		{"default/reset", Default(), Reset, Default()},
		{"default/toggle", Default(), Toggle, Off()},
		{"default/turn_off", Default(), TurnOff, Off()},
		{"default/custom", Default(), custom, Custom(3000, 0.5)},

		{"brightened/decrease_stays", Brightened(10), DecreaseBrightness, Brightened(9)},
		{"brightened/decrease_collapses", Brightened(9), DecreaseBrightness, Default()},
		{"brightened/increase", Brightened(9), IncreaseBrightness, Brightened(10)},
		{"brightened/increase_clamped", Brightened(10), IncreaseBrightness, Brightened(10)},
		{"brightened/turn_on", Brightened(9), TurnOn, Brightened(10)},
		{"brightened/reset", Brightened(9), Reset, Default()},
		{"brightened/toggle", Brightened(9), Toggle, Off()},
		{"brightened/turn_off", Brightened(9), TurnOff, Off()},
		{"brightened/custom", Brightened(9), custom, Custom(3000, 0.5)},

		{"dimmed/increase_stays", Dimmed(6), IncreaseBrightness, Dimmed(7)},
		{"dimmed/increase_collapses", Dimmed(8), IncreaseBrightness, Default()},
		{"dimmed/turn_on_collapses", Dimmed(8), TurnOn, Default()},
		{"dimmed/decrease", Dimmed(3), DecreaseBrightness, Dimmed(2)},
		{"dimmed/decrease_clamped", Dimmed(0), DecreaseBrightness, Dimmed(0)},
		{"dimmed/reset", Dimmed(3), Reset, Default()},
		{"dimmed/toggle", Dimmed(3), Toggle, DimmedOff(Dimmed(3), t0)},
		{"dimmed/turn_off", Dimmed(3), TurnOff, DimmedOff(Dimmed(3), t0)},
		{"dimmed/custom", Dimmed(3), custom, Custom(3000, 0.5)},

		{"dimmed_off/increase", dimmedOff, IncreaseBrightness, Brightened(10)},
		{"dimmed_off/decrease", dimmedOff, DecreaseBrightness, dimmedOff},
		{"dimmed_off/reset", dimmedOff, Reset, Off()},
		{"dimmed_off/turn_off", dimmedOff, TurnOff, dimmedOff},
		{"dimmed_off/custom", dimmedOff, custom, Custom(3000, 0.5)},

		{"custom/reset", Custom(3000, 0.5), Reset, Default()},
		{"custom/turn_off", Custom(3000, 0.5), TurnOff, Off()},
		{"custom/turn_on", Custom(3000, 0.5), TurnOn, Custom(3000, 0.5)},
		{"custom/toggle", Custom(3000, 0.5), Toggle, Custom(3000, 0.5)},
		{"custom/increase", Custom(3000, 0.5), IncreaseBrightness, Custom(3000, 0.5)},
		{"custom/decrease", Custom(3000, 0.5), DecreaseBrightness, Custom(3000, 0.5)},
		{"custom/replace", Custom(3000, 0.5), CustomInput(2200, 0.1), Custom(2200, 0.1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := env(0.5, t0)
			got := Transition(tt.from, tt.input, e)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)

			// Same arguments, same answer.
			again := Transition(tt.from, tt.input, e)
			assert.True(t, got.Equal(again), "repeat gave %s, then %s", got, again)
		})
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	captured := Dimmed(4)
	from := DimmedOff(captured, t0)
	_ = Transition(from, TurnOn, env(0.5, t0.Add(time.Minute)))
	assert.Equal(t, 4, from.Dimmed.Level)
	assert.Equal(t, KindDimmedOff, from.Kind)
}

func TestLadderCollapseReturnsToDefault(t *testing.T) {
	e := env(0.1375, t0)

	s := Transition(Default(), IncreaseBrightness, e)
	assert.Equal(t, KindBrightened, s.Kind)
	b, _ := s.Resolve(e.Baseline, 2700, e.Ladder)
	assert.InDelta(t, 0.16, float64(b), 1e-9)

	for i := 0; i < 3 && s.Kind != KindDefault; i++ {
		s = Transition(s, DecreaseBrightness, e)
	}
	assert.Equal(t, KindDefault, s.Kind)

	s = Transition(Default(), DecreaseBrightness, e)
	assert.Equal(t, Dimmed(5), s)
	s = Transition(s, IncreaseBrightness, e)
	assert.Equal(t, KindDefault, s.Kind)
}

func TestLadderCollapseFromFarAbove(t *testing.T) {
	e := env(0.1375, t0)

	s := Transition(Off(), IncreaseBrightness, e)
	assert.Equal(t, Brightened(10), s)

	presses := 0
	for s.Kind == KindBrightened {
		s = Transition(s, DecreaseBrightness, e)
		presses++
		if presses > len(Renard10) {
			t.Fatal("brightened state never collapsed")
		}
	}
	assert.Equal(t, KindDefault, s.Kind)
	// 1.0 -> .63 -> .4 -> .25 -> .16 -> (.1 collapses)
	assert.Equal(t, 5, presses)
}

func TestDimmedOffExpiry(t *testing.T) {
	baseline := Brightness(0.5)
	s := Transition(Default(), DecreaseBrightness, env(baseline, t0))
	s = Transition(s, DecreaseBrightness, env(baseline, t0))
	assert.Equal(t, Dimmed(7), s)
	dimmedB, _ := s.Resolve(baseline, 2700, Renard10)

	off := Transition(s, TurnOff, env(baseline, t0))
	assert.Equal(t, KindDimmedOff, off.Kind)

	t.Run("before lifetime", func(t *testing.T) {
		on := Transition(off, TurnOn, env(baseline, t0.Add(time.Hour)))
		assert.True(t, Dimmed(7).Equal(on))
		b, _ := on.Resolve(baseline, 2700, Renard10)
		assert.Equal(t, dimmedB, b)
	})

	t.Run("exactly at lifetime", func(t *testing.T) {
		on := Transition(off, Toggle, env(baseline, t0.Add(DefaultDimmedLifetime)))
		assert.True(t, Dimmed(7).Equal(on))
	})

	t.Run("after lifetime", func(t *testing.T) {
		on := Transition(off, TurnOn, env(baseline, t0.Add(5*time.Hour)))
		assert.Equal(t, KindDefault, on.Kind)
		b, _ := on.Resolve(baseline, 2700, Renard10)
		assert.Equal(t, baseline, b)
	})
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		baseline Brightness
		wantB    Brightness
		wantCT   ColorTemperature
	}{
		{"off", Off(), 0.5, 0, 2700},
		{"default", Default(), 0.5, 0.5, 2700},
		{"brightened above baseline", Brightened(9), 0.5, 0.63, 2700},
		{"brightened under a risen baseline", Brightened(6), 0.5, 0.5, 2700},
		{"dimmed below baseline", Dimmed(3), 0.5, 0.04, 2700},
		{"dimmed over a fallen baseline", Dimmed(8), 0.1, 0.1, 2700},
		{"dimmed out of range level", Dimmed(42), 1.0, 1.0, 2700},
		{"dimmed_off", DimmedOff(Dimmed(3), t0), 0.5, 0, 2700},
		{"custom", Custom(4000, 0.3), 0.5, 0.3, 4000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ct := tt.state.Resolve(tt.baseline, 2700, Renard10)
			assert.Equal(t, tt.wantB, b)
			assert.Equal(t, tt.wantCT, ct)
		})
	}
}
