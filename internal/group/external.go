package group

import (
	"github.com/dokzlo13/daylightd/internal/light"
)

// externalTolerance is how far a requested brightness may stray from the
// baseline and still count as the schedule's own value.
const externalTolerance = 0.05

// ExternalState is a state pushed by a home-automation integration. Nil
// fields were not part of the request.
type ExternalState struct {
	On               bool
	Brightness       *light.Brightness
	ColorTemperature *light.ColorTemperature
}

// MapExternal turns a requested state into a light state relative to the
// current brightness baseline.
//
// An explicit color temperature pins a Custom state, since no other state
// can hold one. Otherwise a brightness within 5% of the baseline is
// Default, and anything further away becomes a ladder step on that side.
func MapExternal(ext ExternalState, baseline light.Brightness, ladder light.Ladder) light.State {
	if !ext.On {
		return light.Off()
	}

	if ext.ColorTemperature != nil {
		b := baseline
		if ext.Brightness != nil {
			b = *ext.Brightness
		}
		return light.Custom(*ext.ColorTemperature, b.Clamp())
	}

	if ext.Brightness == nil {
		return light.Default()
	}

	b := *ext.Brightness
	switch {
	case b < baseline.Scale(1-externalTolerance):
		return light.Dimmed(min(ladder.Nearest(b), ladder.Below(baseline)))
	case b > baseline.Scale(1+externalTolerance):
		return light.Brightened(max(ladder.Nearest(b), ladder.Above(baseline)))
	default:
		return light.Default()
	}
}
