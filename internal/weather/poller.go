package weather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultRefresh is the default weather TTL.
const DefaultRefresh = 5 * time.Minute

// Poller refreshes weather from a Fetcher on a fixed interval and caches the
// last good value. A failed fetch keeps the previous value.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration

	mu       sync.RWMutex
	latest   Weather
	ok       bool
	lastErr  error
	onChange []func(Weather, error)
}

func NewPoller(fetcher Fetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultRefresh
	}
	return &Poller{fetcher: fetcher, interval: interval}
}

// Interval returns the refresh interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// OnRefresh registers fn to be called after every refresh attempt. Must be
// called before Run.
func (p *Poller) OnRefresh(fn func(Weather, error)) {
	p.onChange = append(p.onChange, fn)
}

// Run fetches immediately, unless a value is already cached, and then every
// interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	log.Info().Str("source", p.fetcher.Name()).Dur("interval", p.interval).Msg("Weather poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	_, skip := p.Latest()
	for {
		if !skip {
			if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("source", p.fetcher.Name()).Msg("Weather refresh failed, keeping previous value")
			}
		}
		skip = false

		select {
		case <-ctx.Done():
			log.Debug().Msg("Weather poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Refresh fetches once and stores the result.
func (p *Poller) Refresh(ctx context.Context) error {
	w, err := p.fetcher.Fetch(ctx)
	if err == nil && !w.Valid() {
		err = fmt.Errorf("sunrise %s is not before sunset %s", w.Sunrise, w.Sunset)
	}

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.latest = w
		p.ok = true
	}
	hooks := p.onChange
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(w, err)
	}
	if err != nil {
		return err
	}

	log.Debug().
		Str("source", w.Source).
		Time("sunrise", w.Sunrise).
		Time("sunset", w.Sunset).
		Float64("temp_c", w.TempC).
		Msg("Weather refreshed")
	return nil
}

// Latest returns the cached weather.
func (p *Poller) Latest() (Weather, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.ok
}

// LastError returns the error of the most recent refresh, if any.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
