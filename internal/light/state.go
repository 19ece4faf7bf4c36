package light

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned when decoding a state with an unrecognized type.
var ErrUnknownKind = errors.New("unknown state kind")

// Kind tags the active variant of a State.
type Kind int

const (
	KindOff Kind = iota
	KindDefault
	KindBrightened
	KindDimmed
	KindDimmedOff
	KindCustom
)

var kindNames = map[Kind]string{
	KindOff:        "off",
	KindDefault:    "default",
	KindBrightened: "brightened",
	KindDimmed:     "dimmed",
	KindDimmedOff:  "dimmed_off",
	KindCustom:     "custom",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// State is the state of one light group. Which fields are meaningful
// depends on Kind:
//
//	KindBrightened, KindDimmed: Level (ladder index)
//	KindDimmedOff:              Dimmed (the captured dimmed state), OffAt
//	KindCustom:                 Brightness, ColorTemperature
type State struct {
	Kind             Kind
	Level            int
	Brightness       Brightness
	ColorTemperature ColorTemperature
	Dimmed           *State
	OffAt            time.Time
}

func Off() State                 { return State{Kind: KindOff} }
func Default() State             { return State{Kind: KindDefault} }
func Brightened(level int) State { return State{Kind: KindBrightened, Level: level} }
func Dimmed(level int) State     { return State{Kind: KindDimmed, Level: level} }

// DimmedOff captures a dimmed state at the moment the group was turned off.
func DimmedOff(dimmed State, at time.Time) State {
	d := dimmed
	return State{Kind: KindDimmedOff, Dimmed: &d, OffAt: at.UTC()}
}

// Custom pins both values regardless of schedule.
func Custom(ct ColorTemperature, b Brightness) State {
	return State{Kind: KindCustom, ColorTemperature: ct, Brightness: b}
}

// IsOn reports whether the state renders a non-zero brightness.
func (s State) IsOn() bool {
	switch s.Kind {
	case KindOff, KindDimmedOff:
		return false
	case KindCustom:
		return s.Brightness > BrightnessOff
	}
	return true
}

// Equal compares two states by their meaningful fields only.
func (s State) Equal(o State) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindBrightened, KindDimmed:
		return s.Level == o.Level
	case KindDimmedOff:
		if !s.OffAt.Equal(o.OffAt) {
			return false
		}
		if s.Dimmed == nil || o.Dimmed == nil {
			return s.Dimmed == o.Dimmed
		}
		return s.Dimmed.Equal(*o.Dimmed)
	case KindCustom:
		return s.Brightness == o.Brightness && s.ColorTemperature == o.ColorTemperature
	}
	return true
}

func (s State) String() string {
	switch s.Kind {
	case KindBrightened, KindDimmed:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Level)
	case KindDimmedOff:
		if s.Dimmed != nil {
			return fmt.Sprintf("%s(%s, %s)", s.Kind, s.Dimmed, s.OffAt.Format(time.RFC3339))
		}
	case KindCustom:
		return fmt.Sprintf("%s(%dK, %.3f)", s.Kind, s.ColorTemperature, s.Brightness)
	}
	return s.Kind.String()
}

// Resolve computes the brightness and color temperature the state renders
// at, given the schedule baselines. Brightened never renders below the
// baseline and Dimmed never above it.
func (s State) Resolve(baseline Brightness, baseCT ColorTemperature, ladder Ladder) (Brightness, ColorTemperature) {
	switch s.Kind {
	case KindOff, KindDimmedOff:
		return BrightnessOff, baseCT
	case KindDefault:
		return baseline, baseCT
	case KindBrightened:
		return max(ladder.At(s.Level), baseline), baseCT
	case KindDimmed:
		return min(ladder.At(s.Level), baseline), baseCT
	case KindCustom:
		return s.Brightness, s.ColorTemperature
	}
	return BrightnessOff, baseCT
}

type stateJSON struct {
	Type             string            `json:"type"`
	Level            *int              `json:"level,omitempty"`
	Brightness       *Brightness       `json:"brightness,omitempty"`
	ColorTemperature *ColorTemperature `json:"color_temperature,omitempty"`
	Dimmed           *State            `json:"dimmed,omitempty"`
	OffAt            *time.Time        `json:"off_at,omitempty"`
}

// MarshalJSON encodes the state as a tagged object.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Type: s.Kind.String()}
	switch s.Kind {
	case KindOff, KindDefault:
	case KindBrightened, KindDimmed:
		level := s.Level
		out.Level = &level
	case KindDimmedOff:
		if s.Dimmed == nil {
			return nil, fmt.Errorf("dimmed_off state without captured dimmed state")
		}
		offAt := s.OffAt.UTC()
		out.Dimmed = s.Dimmed
		out.OffAt = &offAt
	case KindCustom:
		b, ct := s.Brightness, s.ColorTemperature
		out.Brightness = &b
		out.ColorTemperature = &ct
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(s.Kind))
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a tagged object, rejecting missing payload fields.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := ParseKind(in.Type)
	if err != nil {
		return err
	}

	switch kind {
	case KindOff, KindDefault:
		*s = State{Kind: kind}
	case KindBrightened, KindDimmed:
		if in.Level == nil {
			return fmt.Errorf("%s state without level", kind)
		}
		*s = State{Kind: kind, Level: *in.Level}
	case KindDimmedOff:
		if in.Dimmed == nil || in.Dimmed.Kind != KindDimmed {
			return fmt.Errorf("dimmed_off state without captured dimmed state")
		}
		if in.OffAt == nil {
			return fmt.Errorf("dimmed_off state without off_at")
		}
		*s = DimmedOff(*in.Dimmed, *in.OffAt)
	case KindCustom:
		if in.Brightness == nil || in.ColorTemperature == nil {
			return fmt.Errorf("custom state without brightness or color_temperature")
		}
		*s = Custom(*in.ColorTemperature, *in.Brightness)
	}
	return nil
}

// Decode parses a persisted state payload.
func Decode(payload []byte) (State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return State{}, fmt.Errorf("failed to decode state: %w", err)
	}
	return s, nil
}

// Encode serializes a state for persistence.
func Encode(s State) ([]byte, error) {
	return json.Marshal(s)
}
