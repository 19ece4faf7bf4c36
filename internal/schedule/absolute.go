package schedule

import (
	"sort"
	"sync"
	"time"
)

// Absolute interpolates between control points anchored at real instants.
// Points are added over time (typically once a day) and old ones are pruned
// so that at most one point lies in the past. Safe for concurrent use.
type Absolute[T Value[T]] struct {
	clock Clock

	mu     sync.RWMutex
	points []Point[T]
}

func NewAbsolute[T Value[T]](clock Clock) *Absolute[T] {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Absolute[T]{clock: clock}
}

// AddPoint inserts a point, replacing any point at the same instant, then
// prunes past points.
func (a *Absolute[T]) AddPoint(at time.Time, v T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.insert(at, v)
	a.prune()
}

// AddPoints inserts several points under one lock.
func (a *Absolute[T]) AddPoints(points []Point[T]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range points {
		a.insert(p.At, p.Value)
	}
	a.prune()
}

// ReplaceRange drops the points in [start, end) and inserts points in their
// place. Used to re-seed a whole day at once.
func (a *Absolute[T]) ReplaceRange(start, end time.Time, points []Point[T]) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.points[:0]
	for _, p := range a.points {
		if p.At.Before(start) || !p.At.Before(end) {
			kept = append(kept, p)
		}
	}
	a.points = kept
	for _, p := range points {
		a.insert(p.At, p.Value)
	}
	a.prune()
}

func (a *Absolute[T]) insert(at time.Time, v T) {
	i := sort.Search(len(a.points), func(i int) bool { return !a.points[i].At.Before(at) })
	if i < len(a.points) && a.points[i].At.Equal(at) {
		a.points[i].Value = v
		return
	}
	a.points = append(a.points, Point[T]{})
	copy(a.points[i+1:], a.points[i:])
	a.points[i] = Point[T]{At: at, Value: v}
}

// prune drops every point strictly before the latest point that is not in
// the future.
func (a *Absolute[T]) prune() {
	now := a.clock.Now()
	i := sort.Search(len(a.points), func(i int) bool { return a.points[i].At.After(now) })
	if i > 1 {
		a.points = append(a.points[:0], a.points[i-1:]...)
	}
}

// ValueAt evaluates the schedule. Outside the covered range it returns the
// first or last value; with no points it returns the zero value.
func (a *Absolute[T]) ValueAt(t time.Time) T {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var zero T
	n := len(a.points)
	if n == 0 {
		return zero
	}

	i := sort.Search(n, func(i int) bool { return !a.points[i].At.Before(t) })
	switch {
	case i < n && a.points[i].At.Equal(t):
		return a.points[i].Value
	case i == 0:
		return a.points[0].Value
	case i == n:
		return a.points[n-1].Value
	}

	prev, next := a.points[i-1], a.points[i]
	frac := float64(t.Sub(prev.At)) / float64(next.At.Sub(prev.At))
	return interpolate(prev.Value, next.Value, frac)
}

// Len returns the number of retained points.
func (a *Absolute[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.points)
}

// Points returns a copy of the retained points.
func (a *Absolute[T]) Points() []Point[T] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Point[T], len(a.points))
	copy(out, a.points)
	return out
}
