package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultReseedAt is the local time of day of the daily re-seed.
const DefaultReseedAt = time.Minute

// Seeder recomputes a schedule's control points for the given local day.
type Seeder interface {
	Seed(day time.Time) error
}

// SeederFunc adapts a function to Seeder.
type SeederFunc func(day time.Time) error

func (f SeederFunc) Seed(day time.Time) error { return f(day) }

type namedSeeder struct {
	name   string
	seeder Seeder
}

// Reseeder runs its seeders once at start and then daily at a fixed local
// time. A failed run is retried after RetryAfter.
type Reseeder struct {
	clock      Clock
	loc        *time.Location
	at         time.Duration
	retryAfter time.Duration
	seeders    []namedSeeder
}

// NewReseeder creates a reseeder that fires at the given offset from local
// midnight.
func NewReseeder(clock Clock, loc *time.Location, at, retryAfter time.Duration) *Reseeder {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	if retryAfter <= 0 {
		retryAfter = 5 * time.Minute
	}
	return &Reseeder{clock: clock, loc: loc, at: at, retryAfter: retryAfter}
}

// Add registers a seeder. Must be called before Run.
func (r *Reseeder) Add(name string, s Seeder) {
	r.seeders = append(r.seeders, namedSeeder{name: name, seeder: s})
}

// SeedNow runs every seeder for the local day containing now.
func (r *Reseeder) SeedNow(now time.Time) error {
	day := now.In(r.loc)
	var errs []error
	for _, s := range r.seeders {
		if err := s.seeder.Seed(day); err != nil {
			log.Warn().Err(err).Str("schedule", s.name).Str("day", day.Format("2006-01-02")).Msg("Schedule re-seed failed")
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("schedule", s.name).Str("day", day.Format("2006-01-02")).Msg("Schedule re-seeded")
	}
	return errors.Join(errs...)
}

// Run seeds immediately, then once a day, until ctx is done.
func (r *Reseeder) Run(ctx context.Context) {
	err := r.SeedNow(r.clock.Now())
	for {
		now := r.clock.Now()
		next := NextDaily(now, r.loc, r.at)
		if err != nil {
			if retry := now.Add(r.retryAfter); retry.Before(next) {
				next = retry
			}
		}

		log.Debug().Time("next", next).Msg("Next schedule re-seed")
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err = r.SeedNow(r.clock.Now())
	}
}

// NextDaily returns the first instant strictly after now whose local time of
// day in loc equals at.
func NextDaily(now time.Time, loc *time.Location, at time.Duration) time.Time {
	local := now.In(loc)
	h := int(at / time.Hour)
	m := int(at % time.Hour / time.Minute)
	s := int(at % time.Minute / time.Second)

	next := time.Date(local.Year(), local.Month(), local.Day(), h, m, s, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, h, m, s, 0, loc)
	}
	return next
}
