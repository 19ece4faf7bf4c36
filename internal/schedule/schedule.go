// Package schedule turns sparse control points into a continuous value over
// time. It provides daily (time-of-day) and absolute (instant) schedules,
// time-bounded overrides, drift-corrected periodic sampling and a daily
// re-seed loop.
package schedule

import (
	"errors"
	"sync"
	"time"
)

// ErrNoPoints is returned when a schedule is built without control points.
var ErrNoPoints = errors.New("schedule has no points")

// Value is anything that can be linearly interpolated.
type Value[T any] interface {
	Add(T) T
	Sub(T) T
	Scale(float64) T
}

// Schedule reports a value for any instant.
type Schedule[T any] interface {
	ValueAt(t time.Time) T
}

// Point is a control point anchored at an absolute instant.
type Point[T any] struct {
	At    time.Time
	Value T
}

// interpolate returns a + (b-a)*frac.
func interpolate[T Value[T]](a, b T, frac float64) T {
	return a.Add(b.Sub(a).Scale(frac))
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
