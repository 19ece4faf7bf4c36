// Package curve produces one day's worth of control points from a weather
// value, either from time expressions ("@sunrise - 2h": 0.1) or from a Lua
// script.
package curve

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dokzlo13/daylightd/internal/schedule"
	"github.com/dokzlo13/daylightd/internal/weather"
)

// Anchor is the reference instant of an expression.
type Anchor int

const (
	AnchorFixed Anchor = iota
	AnchorDawn
	AnchorSunrise
	AnchorNoon
	AnchorMidday
	AnchorSunset
	AnchorDusk
)

var anchorNames = map[string]Anchor{
	"dawn":    AnchorDawn,
	"sunrise": AnchorSunrise,
	"noon":    AnchorNoon,
	"midday":  AnchorMidday,
	"sunset":  AnchorSunset,
	"dusk":    AnchorDusk,
}

// Expr is a parsed time expression: a fixed time of day ("22:15") or a sun
// event with an optional offset ("@sunset - 1h30m").
type Expr struct {
	Raw    string
	Anchor Anchor
	Fixed  time.Duration // since midnight, for AnchorFixed
	Offset time.Duration
}

var solarPattern = regexp.MustCompile(`^@(\w+)\s*(?:([+-])\s*(\S+))?$`)

// ParseExpr parses a time expression.
func ParseExpr(raw string) (Expr, error) {
	s := strings.TrimSpace(raw)

	if !strings.HasPrefix(s, "@") {
		tod, err := schedule.ParseTimeOfDay(s)
		if err != nil {
			return Expr{}, fmt.Errorf("invalid time expression %q", raw)
		}
		return Expr{Raw: s, Anchor: AnchorFixed, Fixed: tod}, nil
	}

	m := solarPattern.FindStringSubmatch(s)
	if m == nil {
		return Expr{}, fmt.Errorf("invalid time expression %q", raw)
	}
	anchor, ok := anchorNames[strings.ToLower(m[1])]
	if !ok {
		return Expr{}, fmt.Errorf("unknown sun event %q in %q", m[1], raw)
	}

	e := Expr{Raw: s, Anchor: anchor}
	if m[2] != "" {
		d, err := time.ParseDuration(m[3])
		if err != nil {
			return Expr{}, fmt.Errorf("invalid offset in %q: %w", raw, err)
		}
		if m[2] == "-" {
			d = -d
		}
		e.Offset = d
	}
	return e, nil
}

// MustParseExpr panics on invalid input. For package-level tables.
func MustParseExpr(raw string) Expr {
	e, err := ParseExpr(raw)
	if err != nil {
		panic(err)
	}
	return e
}

func (e Expr) String() string { return e.Raw }

// Evaluate resolves the expression on the local day of day in loc. Sun
// events are moved onto that day by their time of day, so a forecast
// fetched yesterday still seeds today. It reports false when the weather
// lacks the event.
func (e Expr) Evaluate(day time.Time, w weather.Weather, loc *time.Location) (time.Time, bool) {
	local := day.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var base time.Time
	switch e.Anchor {
	case AnchorFixed:
		return midnight.Add(e.Fixed), true
	case AnchorDawn:
		base = w.Dawn
	case AnchorSunrise:
		base = w.Sunrise
	case AnchorNoon:
		base = w.Noon
	case AnchorMidday:
		if w.Valid() {
			base = w.Midday()
		}
	case AnchorSunset:
		base = w.Sunset
	case AnchorDusk:
		base = w.Dusk
	}
	if base.IsZero() {
		return time.Time{}, false
	}

	return midnight.Add(schedule.TimeOfDay(base.In(loc))).Add(e.Offset), true
}
