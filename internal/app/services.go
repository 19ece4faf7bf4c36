package app

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/config"
	"github.com/dokzlo13/daylightd/internal/db"
	"github.com/dokzlo13/daylightd/internal/geo"
	"github.com/dokzlo13/daylightd/internal/homeassistant"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/metrics"
	"github.com/dokzlo13/daylightd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Store    *storage.Store
	Mirror   *storage.TypedStore[light.State]
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// High-level services
	MQTT    *MQTTService
	Weather *WeatherService
	Groups  *GroupService
	Bridges []*homeassistant.Bridge
	Status  *StatusService

	ready atomic.Bool
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Local mirror of the retained group states
	s.Store = storage.NewStore(database.DB)
	s.Mirror = storage.NewTypedStore[light.State](s.Store, mirrorKind)

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.New(s.Registry)

	resolver := geo.NewResolver(cfg.Weather.HTTPTimeout.Duration(), geo.NewCache(database.DB))
	s.Weather, err = NewWeatherService(cfg, resolver, s.Metrics)
	if err != nil {
		database.Close()
		return nil, err
	}

	s.MQTT = NewMQTTService(cfg)

	s.Groups, err = NewGroupService(cfg, s.MQTT.Client, s.Weather, s.Mirror, s.Metrics)
	if err != nil {
		database.Close()
		return nil, err
	}

	if cfg.HomeAssistant.Enabled {
		for _, ctrl := range s.Groups.Registry.All() {
			bridge := homeassistant.New(s.MQTT.Client, ctrl, homeassistant.Config{
				TopicPrefix:     cfg.Topics.Prefix,
				DiscoveryPrefix: cfg.HomeAssistant.DiscoveryPrefix,
			})
			ctrl.Observe(bridge)
			s.Bridges = append(s.Bridges, bridge)
		}
	}

	s.Status = NewStatusService(cfg, s.Groups, s.Weather, s.Registry, s.Ready)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// 1. Broker connection; without it no group can restore or render
	if err := s.MQTT.Start(ctx); err != nil {
		return err
	}
	s.MQTT.StartBackground(ctx, onFatalError)

	// 2. Weather, so the first seeding has real sun times when possible
	s.Weather.Start(ctx)

	// 3. Devices, schedules and light groups
	if err := s.Groups.Start(ctx); err != nil {
		return err
	}
	s.Groups.StartSamplers(ctx)

	// 4. Home Assistant discovery and commands
	for _, bridge := range s.Bridges {
		if err := bridge.Start(ctx); err != nil {
			return err
		}
	}

	// 5. Status server
	s.Status.Start(ctx)

	s.ready.Store(true)
	return nil
}

// Ready reports whether startup finished and the broker is reachable.
func (s *Services) Ready() bool {
	return s.ready.Load() && s.MQTT.Client.IsConnected()
}

// ClearState drops the local mirror of the light group states. Retained
// states on the broker are left alone.
func (s *Services) ClearState() error {
	if err := s.Mirror.Clear(context.Background()); err != nil {
		return err
	}
	log.Info().Str("kind", s.Mirror.Kind()).Msg("Cleared light group state mirror")
	return nil
}

// Stop gracefully stops all services.
// The context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	s.ready.Store(false)

	if s.Groups != nil {
		s.Groups.Wait()
		s.Groups.Close()
	}

	if s.MQTT != nil {
		s.MQTT.Close()
	}

	if s.DB != nil {
		return s.DB.Close()
	}

	return nil
}
