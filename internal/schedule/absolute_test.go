package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var noon = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestAbsoluteInterpolation(t *testing.T) {
	a := NewAbsolute[level](NewManualClock(noon))
	a.AddPoint(noon.Add(1*time.Hour), 0.2)
	a.AddPoint(noon.Add(3*time.Hour), 0.6)

	assert.Equal(t, level(0.2), a.ValueAt(noon.Add(1*time.Hour)))
	assert.InDelta(t, 0.4, float64(a.ValueAt(noon.Add(2*time.Hour))), 1e-9)
	assert.Equal(t, level(0.6), a.ValueAt(noon.Add(3*time.Hour)))
}

func TestAbsoluteClampsOutsideRange(t *testing.T) {
	a := NewAbsolute[level](NewManualClock(noon))
	a.AddPoints([]Point[level]{
		{At: noon.Add(1 * time.Hour), Value: 0.3},
		{At: noon.Add(2 * time.Hour), Value: 0.9},
		{At: noon.Add(5 * time.Hour), Value: 0.7},
	})

	for _, before := range []time.Duration{-48 * time.Hour, -time.Minute, 59 * time.Minute} {
		assert.Equal(t, level(0.3), a.ValueAt(noon.Add(before)), "before %s", before)
	}
	for _, after := range []time.Duration{5*time.Hour + time.Nanosecond, 6 * time.Hour, 400 * time.Hour} {
		assert.Equal(t, level(0.7), a.ValueAt(noon.Add(after)), "after %s", after)
	}
}

func TestAbsoluteEmpty(t *testing.T) {
	a := NewAbsolute[level](NewManualClock(noon))
	assert.Equal(t, level(0), a.ValueAt(noon))
	assert.Equal(t, 0, a.Len())
}

func TestAbsoluteReplacesSameInstant(t *testing.T) {
	a := NewAbsolute[level](NewManualClock(noon))
	a.AddPoint(noon.Add(time.Hour), 0.1)
	a.AddPoint(noon.Add(time.Hour), 0.8)

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, level(0.8), a.ValueAt(noon.Add(time.Hour)))
}

func TestAbsoluteKeepsOnePastAnchor(t *testing.T) {
	clock := NewManualClock(noon)
	a := NewAbsolute[level](clock)
	a.AddPoints([]Point[level]{
		{At: noon.Add(-3 * time.Hour), Value: 0.1},
		{At: noon.Add(-2 * time.Hour), Value: 0.2},
		{At: noon.Add(-1 * time.Hour), Value: 0.4},
		{At: noon.Add(1 * time.Hour), Value: 0.6},
	})

	points := a.Points()
	assert.Len(t, points, 2)
	assert.Equal(t, noon.Add(-1*time.Hour), points[0].At)
	assert.InDelta(t, 0.5, float64(a.ValueAt(noon)), 1e-9)

	// Moving past the last point and adding more prunes the old anchor.
	clock.Advance(2 * time.Hour)
	a.AddPoint(noon.Add(4*time.Hour), 0.9)
	points = a.Points()
	assert.Len(t, points, 2)
	assert.Equal(t, noon.Add(1*time.Hour), points[0].At)
}

func TestAbsoluteConcurrentAccess(t *testing.T) {
	a := NewAbsolute[level](NewManualClock(noon))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.AddPoint(noon.Add(time.Duration(i*100+j)*time.Minute), level(j)/100)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = a.ValueAt(noon.Add(time.Duration(j) * time.Minute))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, a.Len())
}

func TestAbsoluteReplaceRange(t *testing.T) {
	a := NewAbsolute[level](NewManualClock(noon))
	day := noon.Add(12 * time.Hour)
	a.AddPoints([]Point[level]{
		{At: noon.Add(1 * time.Hour), Value: 0.5},
		{At: day.Add(7 * time.Hour), Value: 0.1},
		{At: day.Add(8 * time.Hour), Value: 0.2},
	})

	a.ReplaceRange(day, day.Add(24*time.Hour), []Point[level]{
		{At: day.Add(5 * time.Hour), Value: 0.3},
	})

	points := a.Points()
	assert.Len(t, points, 2)
	assert.Equal(t, level(0.5), points[0].Value)
	assert.Equal(t, level(0.3), points[1].Value)
}
