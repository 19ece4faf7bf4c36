package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/dokzlo13/daylightd/internal/geo"
)

// Locator resolves a place name to coordinates.
type Locator interface {
	Resolve(ctx context.Context, query string) (geo.Location, error)
}

// Astro computes sun times locally instead of asking a weather service.
// Coordinates are either given or resolved once from a place name.
type Astro struct {
	loc      *time.Location
	place    string
	locator  Locator
	position *geo.Location
	now      func() time.Time
}

// NewAstro uses fixed coordinates.
func NewAstro(lat, lon float64, loc *time.Location) *Astro {
	return &Astro{
		loc:      loc,
		position: &geo.Location{Latitude: lat, Longitude: lon},
		now:      time.Now,
	}
}

// NewAstroForPlace resolves place through locator on first fetch.
func NewAstroForPlace(place string, locator Locator, loc *time.Location) *Astro {
	return &Astro{loc: loc, place: place, locator: locator, now: time.Now}
}

func (a *Astro) Name() string { return "astro" }

func (a *Astro) Fetch(ctx context.Context) (Weather, error) {
	if a.position == nil {
		pos, err := a.locator.Resolve(ctx, a.place)
		if err != nil {
			return Weather{}, fmt.Errorf("failed to resolve %q: %w", a.place, err)
		}
		a.position = &pos
	}

	now := a.now()
	sun := geo.Sun(a.position.Latitude, a.position.Longitude, now, a.loc)
	return Weather{
		Sunrise:   sun.Sunrise,
		Sunset:    sun.Sunset,
		Dawn:      sun.Dawn,
		Noon:      sun.Noon,
		Dusk:      sun.Dusk,
		Source:    a.Name(),
		FetchedAt: now,
	}, nil
}

// Static reports the same sunrise and sunset time of day, every day.
type Static struct {
	Sunrise time.Duration // since local midnight
	Sunset  time.Duration
	Loc     *time.Location
	Now     func() time.Time
}

func (s Static) Name() string { return "static" }

func (s Static) Fetch(context.Context) (Weather, error) {
	return s.For(s.now()), nil
}

// For returns the static weather of the local day containing t.
func (s Static) For(t time.Time) Weather {
	loc := s.Loc
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Weather{
		Sunrise:   midnight.Add(s.Sunrise),
		Sunset:    midnight.Add(s.Sunset),
		Source:    s.Name(),
		FetchedAt: t,
	}
}

func (s Static) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
