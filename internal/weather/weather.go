// Package weather provides the sunrise/sunset value that solar schedules are
// seeded from, refreshed in the background by a poller.
package weather

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingAPIKey means the OpenWeather source was configured without
	// credentials. It is fatal at startup.
	ErrMissingAPIKey = errors.New("weather: OpenWeather API key is required")
	// ErrUnavailable means no weather value has been fetched yet.
	ErrUnavailable = errors.New("weather: no value available yet")
)

// Weather is the part of a forecast the schedules care about. Dawn, Noon and
// Dusk are zero when the source does not provide them.
type Weather struct {
	Sunrise     time.Time `json:"sunrise"`
	Sunset      time.Time `json:"sunset"`
	Dawn        time.Time `json:"dawn,omitempty"`
	Noon        time.Time `json:"noon,omitempty"`
	Dusk        time.Time `json:"dusk,omitempty"`
	TempC       float64   `json:"temp_c"`
	Clouds      int       `json:"clouds"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Midday is the midpoint between sunrise and sunset.
func (w Weather) Midday() time.Time {
	return w.Sunrise.Add(w.Sunset.Sub(w.Sunrise) / 2)
}

// Valid reports whether sunrise precedes sunset.
func (w Weather) Valid() bool {
	return !w.Sunrise.IsZero() && w.Sunset.After(w.Sunrise)
}

// Provider exposes the most recently fetched weather.
type Provider interface {
	Latest() (Weather, bool)
}

// Fetcher retrieves a fresh weather value.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (Weather, error)
}
