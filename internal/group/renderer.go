package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/daylightd/internal/device"
	"github.com/dokzlo13/daylightd/internal/metrics"
)

// RendererConfig bounds how fast device commands go out.
type RendererConfig struct {
	// Rate is the number of device commands per second across all groups.
	// Zero means unlimited.
	Rate  float64
	Burst int
	// Concurrency caps in-flight commands per render. Zero means one per
	// light.
	Concurrency int
}

// Renderer applies a resolved command to a set of lights. It keeps no
// state besides its rate limiter and is shared by every group.
type Renderer struct {
	limiter     *rate.Limiter
	concurrency int
	metrics     *metrics.Metrics
}

// NewRenderer creates a renderer. m may be nil.
func NewRenderer(cfg RendererConfig, m *metrics.Metrics) *Renderer {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Renderer{
		limiter:     rate.NewLimiter(limit, burst),
		concurrency: cfg.Concurrency,
		metrics:     m,
	}
}

// Render sends cmd to every light concurrently. A failing light does not
// affect the others; the returned error joins every per-light failure.
func (r *Renderer) Render(ctx context.Context, group string, lights []device.Light, cmd device.Command) error {
	failures := make([]error, len(lights))

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, l := range lights {
		g.Go(func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				failures[i] = fmt.Errorf("%s: %w", l.Name(), err)
				return nil
			}
			if err := l.Set(ctx, cmd); err != nil {
				log.Warn().
					Err(err).
					Str("group", group).
					Str("device", l.Name()).
					Msg("Failed to set light")
				r.metrics.DeviceError(group, l.Name())
				failures[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(failures...)
}
