// Package device defines the capability contracts the group controller
// drives: lights that accept a brightness/color temperature command and
// switches that produce inputs.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/dokzlo13/daylightd/internal/light"
)

// ErrActuation wraps a failure to deliver a command to one device.
var ErrActuation = errors.New("device actuation failed")

// Command is a resolved light value. Zero brightness turns the light off.
type Command struct {
	Brightness       light.Brightness
	ColorTemperature light.ColorTemperature
	Transition       time.Duration
}

// On reports whether the command turns the light on.
func (c Command) On() bool {
	return c.Brightness > light.BrightnessOff
}

// Light is anything that can be set to a brightness and color temperature.
type Light interface {
	Name() string
	Set(ctx context.Context, cmd Command) error
}

// Switch produces inputs until ctx is done; the channel is then closed.
type Switch interface {
	Name() string
	Inputs(ctx context.Context) (<-chan light.Input, error)
}

// Initializer is implemented by devices needing a one-time setup once the
// transport is connected.
type Initializer interface {
	Init(ctx context.Context) error
}
