package curve

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dokzlo13/daylightd/internal/schedule"
	"github.com/dokzlo13/daylightd/internal/weather"
)

// Sample is a raw control point before conversion to a schedule value.
type Sample struct {
	At    time.Time
	Value float64
}

// Generator produces one local day's control points.
type Generator interface {
	Points(day time.Time, w weather.Weather) ([]Sample, error)
}

// Pattern is a list of expression/value pairs.
type Pattern struct {
	loc    *time.Location
	points []patternPoint
}

type patternPoint struct {
	expr  Expr
	value float64
}

// NewPattern parses expression keys. Evaluation happens in loc.
func NewPattern(loc *time.Location, points map[string]float64) (*Pattern, error) {
	if len(points) == 0 {
		return nil, schedule.ErrNoPoints
	}
	if loc == nil {
		loc = time.Local
	}
	p := &Pattern{loc: loc}
	for raw, v := range points {
		e, err := ParseExpr(raw)
		if err != nil {
			return nil, err
		}
		p.points = append(p.points, patternPoint{expr: e, value: v})
	}
	sort.Slice(p.points, func(i, j int) bool { return p.points[i].expr.Raw < p.points[j].expr.Raw })
	return p, nil
}

// Solar reports whether any point depends on the sun.
func (p *Pattern) Solar() bool {
	return lo.SomeBy(p.points, func(pp patternPoint) bool { return pp.expr.Anchor != AnchorFixed })
}

func (p *Pattern) Points(day time.Time, w weather.Weather) ([]Sample, error) {
	out := make([]Sample, 0, len(p.points))
	for _, pp := range p.points {
		at, ok := pp.expr.Evaluate(day, w, p.loc)
		if !ok {
			log.Debug().Str("expr", pp.expr.Raw).Msg("Sun event unavailable, skipping curve point")
			continue
		}
		out = append(out, Sample{At: at, Value: pp.value})
	}
	if len(out) == 0 {
		return nil, schedule.ErrNoPoints
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Standard curves used when a group does not configure its own.
var (
	StandardColorTemperature = map[string]float64{
		"00:00":         2300,
		"@sunrise - 2h": 2300,
		"@sunrise":      2900,
		"@sunrise + 2h": 3500,
		"@midday":       4800,
		"@sunset - 2h":  3000,
		"@sunset":       2700,
		"@sunset + 2h":  2300,
		"23:59":         2300,
	}
	StandardBrightness = map[string]float64{
		"00:00":         0.1,
		"@sunrise - 2h": 0.1,
		"@sunrise":      0.1,
		"@sunrise + 3h": 0.2,
		"@midday":       1.0,
		"@sunset - 2h":  1.0,
		"@sunset":       0.7,
		"@sunset + 2h":  0.3,
		"23:59":         0.1,
	}
)

// Seeded feeds an absolute schedule from a generator and a weather
// provider. When no weather is available yet it seeds from the fallback and
// reports weather.ErrUnavailable so the caller retries.
type Seeded[T schedule.Value[T]] struct {
	Name      string
	Generator Generator
	Target    *schedule.Absolute[T]
	Weather   weather.Provider
	Fallback  weather.Static
	Convert   func(float64) T
	Loc       *time.Location
}

// Seed replaces the points of the local day containing day.
func (s *Seeded[T]) Seed(day time.Time) error {
	w, ok := s.Weather.Latest()
	var stale error
	if !ok {
		w = s.Fallback.For(day)
		stale = weather.ErrUnavailable
	}

	samples, err := s.Generator.Points(day, w)
	if err != nil {
		return fmt.Errorf("curve %s: %w", s.Name, err)
	}

	loc := s.Loc
	if loc == nil {
		loc = time.Local
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	points := lo.Map(samples, func(smp Sample, _ int) schedule.Point[T] {
		return schedule.Point[T]{At: smp.At, Value: s.Convert(smp.Value)}
	})
	s.Target.ReplaceRange(start, end, points)

	log.Info().
		Str("curve", s.Name).
		Str("day", start.Format("2006-01-02")).
		Str("weather", w.Source).
		Int("points", len(points)).
		Msg("Curve seeded")

	if stale != nil {
		return errors.Join(fmt.Errorf("curve %s seeded from fallback", s.Name), stale)
	}
	return nil
}
