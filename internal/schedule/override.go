package schedule

import (
	"sync"
	"sync/atomic"
	"time"
)

// Override replaces a schedule within [start, end) until cancelled.
type Override[T any] struct {
	schedule  Schedule[T]
	start     time.Time
	end       time.Time
	cancelled atomic.Bool
}

// Active reports whether the override applies at t.
func (o *Override[T]) Active(t time.Time) bool {
	return !o.cancelled.Load() && !t.Before(o.start) && t.Before(o.end)
}

// Expired reports whether the override can never apply again after t.
func (o *Override[T]) Expired(t time.Time) bool {
	return o.cancelled.Load() || t.After(o.end)
}

// Cancel deactivates the override.
func (o *Override[T]) Cancel() {
	o.cancelled.Store(true)
}

func (o *Override[T]) Start() time.Time { return o.start }
func (o *Override[T]) End() time.Time   { return o.end }

// Overridable consults its overrides before falling back to the base
// schedule. When several overrides are active at once the most recently
// added one wins.
type Overridable[T any] struct {
	base Schedule[T]

	mu        sync.Mutex
	overrides []*Override[T]
}

func NewOverridable[T any](base Schedule[T]) *Overridable[T] {
	return &Overridable[T]{base: base}
}

// Override registers s as the value source for [start, end).
func (s *Overridable[T]) Override(sched Schedule[T], start, end time.Time) *Override[T] {
	o := &Override[T]{schedule: sched, start: start, end: end}
	s.mu.Lock()
	s.overrides = append(s.overrides, o)
	s.mu.Unlock()
	return o
}

// CancelOverrides cancels and forgets every override.
func (s *Overridable[T]) CancelOverrides() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.overrides {
		o.Cancel()
	}
	s.overrides = nil
}

// Active returns the override in effect at t, if any.
func (s *Overridable[T]) Active(t time.Time) (*Override[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.overrides[:0]
	for _, o := range s.overrides {
		if !o.Expired(t) {
			live = append(live, o)
		}
	}
	clear(s.overrides[len(live):])
	s.overrides = live

	for i := len(s.overrides) - 1; i >= 0; i-- {
		if s.overrides[i].Active(t) {
			return s.overrides[i], true
		}
	}
	return nil, false
}

// ValueAt evaluates the active override, or the base schedule.
func (s *Overridable[T]) ValueAt(t time.Time) T {
	if o, ok := s.Active(t); ok {
		return o.schedule.ValueAt(t)
	}
	return s.base.ValueAt(t)
}
