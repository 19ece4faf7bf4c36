package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DailyPoint is a control point at a time of day, reused every day.
type DailyPoint[T any] struct {
	Offset time.Duration // since local midnight
	Value  T
}

// Daily interpolates between time-of-day points within a single calendar
// day. Before the first point it holds the first value, after the last point
// the last value; it does not wrap across midnight.
type Daily[T Value[T]] struct {
	loc    *time.Location
	points []DailyPoint[T]
}

// NewDaily builds a daily schedule evaluated in loc. Points at the same time
// of day collapse to the last one given.
func NewDaily[T Value[T]](loc *time.Location, points ...DailyPoint[T]) (*Daily[T], error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	if loc == nil {
		loc = time.Local
	}

	byOffset := make(map[time.Duration]T, len(points))
	for _, p := range points {
		if p.Offset < 0 || p.Offset >= 24*time.Hour {
			return nil, fmt.Errorf("time of day %s out of range", p.Offset)
		}
		byOffset[p.Offset] = p.Value
	}

	sorted := make([]DailyPoint[T], 0, len(byOffset))
	for offset, v := range byOffset {
		sorted = append(sorted, DailyPoint[T]{Offset: offset, Value: v})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	return &Daily[T]{loc: loc, points: sorted}, nil
}

// ValueAt evaluates the schedule at the local time of day of t.
func (d *Daily[T]) ValueAt(t time.Time) T {
	tod := TimeOfDay(t.In(d.loc))

	prev, next := d.points[0], d.points[len(d.points)-1]
	i := sort.Search(len(d.points), func(i int) bool { return d.points[i].Offset > tod })
	if i > 0 {
		prev = d.points[i-1]
	}
	if i < len(d.points) {
		next = d.points[i]
	}

	span := next.Offset - prev.Offset
	if span <= 0 {
		return prev.Value
	}
	frac := float64(tod-prev.Offset) / float64(span)
	return interpolate(prev.Value, next.Value, frac)
}

// Points returns a copy of the control points.
func (d *Daily[T]) Points() []DailyPoint[T] {
	out := make([]DailyPoint[T], len(d.points))
	copy(out, d.points)
	return out
}

// TimeOfDay is the wall-clock time elapsed since midnight in t's location.
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}
