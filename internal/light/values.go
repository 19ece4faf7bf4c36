// Package light holds the values, inputs and states of a light group, and the
// pure transition function that moves a group from one state to the next.
package light

import "math"

// Brightness is a relative light level in [0, 1].
type Brightness float64

const (
	BrightnessOff Brightness = 0
	BrightnessMin Brightness = 0.01
	BrightnessMax Brightness = 1.0
)

// deviceBrightnessMax is the top of the zigbee brightness range.
const deviceBrightnessMax = 254

func (b Brightness) Add(o Brightness) Brightness { return b + o }
func (b Brightness) Sub(o Brightness) Brightness { return b - o }
func (b Brightness) Scale(f float64) Brightness  { return Brightness(float64(b) * f) }
func (b Brightness) Less(o Brightness) bool      { return b < o }
func (b Brightness) Float64() float64            { return float64(b) }

// Clamp limits the value to [BrightnessOff, BrightnessMax].
func (b Brightness) Clamp() Brightness {
	switch {
	case b < BrightnessOff:
		return BrightnessOff
	case b > BrightnessMax:
		return BrightnessMax
	}
	return b
}

// ToDevice converts to the 0..254 range used by devices and Home Assistant.
func (b Brightness) ToDevice() int {
	return int(math.Round(float64(b.Clamp()) * deviceBrightnessMax))
}

// BrightnessFromDevice converts a 0..254 device value back to a Brightness.
func BrightnessFromDevice(v int) Brightness {
	return Brightness(float64(v) / deviceBrightnessMax).Clamp()
}

// ColorTemperature is a white point in Kelvin. Devices speak mired; convert
// only at that boundary.
type ColorTemperature int

const (
	ColorTemperatureWarm    ColorTemperature = 2200
	ColorTemperatureNeutral ColorTemperature = 2700
	ColorTemperatureCool    ColorTemperature = 6500
)

func (c ColorTemperature) Add(o ColorTemperature) ColorTemperature { return c + o }
func (c ColorTemperature) Sub(o ColorTemperature) ColorTemperature { return c - o }
func (c ColorTemperature) Scale(f float64) ColorTemperature {
	return ColorTemperature(math.Round(float64(c) * f))
}
func (c ColorTemperature) Kelvin() int { return int(c) }

// Mired returns the reciprocal megakelvin value, or 0 for a non-positive
// temperature.
func (c ColorTemperature) Mired() int {
	if c <= 0 {
		return 0
	}
	return int(math.Round(1e6 / float64(c)))
}

// FromMired converts a mired value to Kelvin.
func FromMired(m int) ColorTemperature {
	if m <= 0 {
		return 0
	}
	return ColorTemperature(math.Round(1e6 / float64(m)))
}
