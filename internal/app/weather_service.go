package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/config"
	"github.com/dokzlo13/daylightd/internal/geo"
	"github.com/dokzlo13/daylightd/internal/metrics"
	"github.com/dokzlo13/daylightd/internal/schedule"
	"github.com/dokzlo13/daylightd/internal/weather"
)

// WeatherService owns the sunrise/sunset source and its poller.
type WeatherService struct {
	Poller   *weather.Poller
	Fallback weather.Static
	Loc      *time.Location
}

// NewWeatherService picks the configured source. A missing OpenWeather key
// is returned as weather.ErrMissingAPIKey.
func NewWeatherService(cfg *config.Config, resolver *geo.Resolver, m *metrics.Metrics) (*WeatherService, error) {
	wc := cfg.Weather
	loc, err := wc.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", wc.Timezone, err)
	}

	sunrise, err := schedule.ParseTimeOfDay(wc.Sunrise)
	if err != nil {
		return nil, fmt.Errorf("invalid sunrise: %w", err)
	}
	sunset, err := schedule.ParseTimeOfDay(wc.Sunset)
	if err != nil {
		return nil, fmt.Errorf("invalid sunset: %w", err)
	}
	fallback := weather.Static{Sunrise: sunrise, Sunset: sunset, Loc: loc}

	var fetcher weather.Fetcher
	switch wc.Source {
	case config.WeatherOpenWeather:
		if wc.APIKey == "" {
			return nil, weather.ErrMissingAPIKey
		}
		lat, lon := wc.Lat, wc.Lon
		if !wc.HasCoordinates() {
			ctx, cancel := context.WithTimeout(context.Background(), wc.HTTPTimeout.Duration())
			pos, err := resolver.Resolve(ctx, wc.Name)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %q: %w", wc.Name, err)
			}
			lat, lon = pos.Latitude, pos.Longitude
			log.Info().Str("place", wc.Name).Float64("lat", lat).Float64("lon", lon).Msg("Resolved weather location")
		}
		fetcher, err = weather.NewOpenWeather(weather.OpenWeatherConfig{
			APIKey:  wc.APIKey,
			Lat:     lat,
			Lon:     lon,
			Timeout: wc.HTTPTimeout.Duration(),
		})
		if err != nil {
			return nil, err
		}
	case config.WeatherAstro:
		if wc.HasCoordinates() {
			fetcher = weather.NewAstro(wc.Lat, wc.Lon, loc)
		} else {
			log.Warn().Str("place", wc.Name).Msg("No lat/lon configured, will use Nominatim geocoding (cached in SQLite)")
			fetcher = weather.NewAstroForPlace(wc.Name, resolver, loc)
		}
	default:
		fetcher = fallback
	}

	poller := weather.NewPoller(fetcher, wc.Refresh.Duration())
	poller.OnRefresh(func(w weather.Weather, err error) {
		if err != nil {
			m.WeatherError()
			return
		}
		m.Weather(w.Sunrise.Unix(), w.Sunset.Unix())
	})

	return &WeatherService{Poller: poller, Fallback: fallback, Loc: loc}, nil
}

// Start fetches once so the schedules can be seeded from real data, then
// keeps polling in the background. A failed first fetch is not fatal: the
// schedules start from the fallback and re-seed once weather arrives.
func (s *WeatherService) Start(ctx context.Context) {
	if err := s.Poller.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial weather fetch failed, using fallback sun times")
	}
	go s.Poller.Run(ctx)
}
