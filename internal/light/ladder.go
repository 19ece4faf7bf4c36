package light

import (
	"fmt"
	"sort"
)

// Ladder is an ascending list of brightness levels used for stepped
// dimming and brightening.
type Ladder []Brightness

// Renard10 is the R10 preferred-number series scaled to (0, 1].
var Renard10 = Ladder{0.01, 0.016, 0.025, 0.04, 0.063, 0.1, 0.16, 0.25, 0.4, 0.63, 1.0}

// Validate checks that the ladder is non-empty, strictly ascending and
// inside (0, 1].
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("ladder is empty")
	}
	for i, v := range l {
		if v <= 0 || v > BrightnessMax {
			return fmt.Errorf("ladder level %d (%v) out of range (0, 1]", i, v)
		}
		if i > 0 && v <= l[i-1] {
			return fmt.Errorf("ladder level %d (%v) is not above level %d (%v)", i, v, i-1, l[i-1])
		}
	}
	return nil
}

// Top is the index of the highest level.
func (l Ladder) Top() int {
	return len(l) - 1
}

// Clamp limits an index to the ladder bounds.
func (l Ladder) Clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i > l.Top() {
		return l.Top()
	}
	return i
}

// At returns the level at index i, clamping i to the ladder.
func (l Ladder) At(i int) Brightness {
	if len(l) == 0 {
		return BrightnessMax
	}
	return l[l.Clamp(i)]
}

// Above returns the index of the smallest level strictly above b, or the top
// index when no level is.
func (l Ladder) Above(b Brightness) int {
	i := sort.Search(len(l), func(i int) bool { return l[i] > b })
	if i == len(l) {
		return l.Top()
	}
	return i
}

// Below returns the index of the largest level strictly below b, or 0 when
// no level is.
func (l Ladder) Below(b Brightness) int {
	i := sort.Search(len(l), func(i int) bool { return l[i] >= b })
	if i == 0 {
		return 0
	}
	return i - 1
}

// Nearest returns the index of the level closest to b. Ties go to the lower
// level.
func (l Ladder) Nearest(b Brightness) int {
	if len(l) == 0 {
		return 0
	}
	i := sort.Search(len(l), func(i int) bool { return l[i] >= b })
	switch {
	case i == 0:
		return 0
	case i == len(l):
		return l.Top()
	case l[i]-b < b-l[i-1]:
		return i
	default:
		return i - 1
	}
}
