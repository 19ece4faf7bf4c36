package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/config"
	"github.com/dokzlo13/daylightd/internal/status"
)

// StatusService manages the status HTTP server.
type StatusService struct {
	cfg    *config.Config
	server *status.Server
}

// NewStatusService creates a new StatusService. Returns nil if disabled.
func NewStatusService(cfg *config.Config, groups *GroupService, weatherSvc *WeatherService, gatherer prometheus.Gatherer, ready func() bool) *StatusService {
	if !cfg.Status.Enabled {
		return nil
	}

	return &StatusService{
		cfg: cfg,
		server: status.NewServer(cfg.Status.Host, cfg.Status.Port, status.Options{
			Groups:   groups.Registry,
			Weather:  weatherSvc.Poller,
			Switches: groups.Pressers,
			Gatherer: gatherer,
			Ready:    ready,
		}),
	}
}

// Start starts the status server in the background.
func (s *StatusService) Start(ctx context.Context) {
	if s == nil {
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Status server error")
		}
	}()
}
