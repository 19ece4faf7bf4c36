package light

import (
	"fmt"
	"strings"
)

// InputKind identifies a switch-driven event.
type InputKind int

const (
	InputTurnOn InputKind = iota
	InputTurnOff
	InputToggle
	InputIncrease
	InputDecrease
	InputReset
	InputCustom
)

var inputNames = map[InputKind]string{
	InputTurnOn:   "turn_on",
	InputTurnOff:  "turn_off",
	InputToggle:   "toggle",
	InputIncrease: "increase_brightness",
	InputDecrease: "decrease_brightness",
	InputReset:    "reset",
	InputCustom:   "custom",
}

// String returns the snake_case name of the input kind.
func (k InputKind) String() string {
	if name, ok := inputNames[k]; ok {
		return name
	}
	return fmt.Sprintf("input(%d)", int(k))
}

// Input is an event produced by a switch. Only InputCustom carries values.
type Input struct {
	Kind             InputKind
	ColorTemperature ColorTemperature
	Brightness       Brightness
}

var (
	TurnOn             = Input{Kind: InputTurnOn}
	TurnOff            = Input{Kind: InputTurnOff}
	Toggle             = Input{Kind: InputToggle}
	IncreaseBrightness = Input{Kind: InputIncrease}
	DecreaseBrightness = Input{Kind: InputDecrease}
	Reset              = Input{Kind: InputReset}
)

// CustomInput pins a group to explicit values.
func CustomInput(ct ColorTemperature, b Brightness) Input {
	return Input{Kind: InputCustom, ColorTemperature: ct, Brightness: b}
}

func (in Input) String() string {
	if in.Kind == InputCustom {
		return fmt.Sprintf("custom(%dK, %.3f)", in.ColorTemperature, in.Brightness)
	}
	return in.Kind.String()
}

// ParseInput parses a value-less input name. Short aliases ("on", "off",
// "up", "down") are accepted.
func ParseInput(s string) (Input, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "turn_on", "on":
		return TurnOn, nil
	case "turn_off", "off":
		return TurnOff, nil
	case "toggle":
		return Toggle, nil
	case "increase_brightness", "increase", "up":
		return IncreaseBrightness, nil
	case "decrease_brightness", "decrease", "down":
		return DecreaseBrightness, nil
	case "reset":
		return Reset, nil
	}
	return Input{}, fmt.Errorf("unknown input %q", s)
}
