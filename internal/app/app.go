// Package app wires the daemon together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/config"
)

// ErrShutdownTimeout is returned by Stop when services do not stop in time.
var ErrShutdownTimeout = errors.New("shutdown timed out")

// App holds the services of one daemon instance.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New builds every service without starting any of them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start runs the services until ctx is cancelled or one of them reports a
// fatal error.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	log.Info().
		Strs("groups", a.services.Groups.Registry.Names()).
		Bool("homeassistant", len(a.services.Bridges) > 0).
		Msg("daylightd started")
	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// Stop cancels the services and waits up to the configured shutdown timeout
// for them to finish.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}
	if a.services == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- a.services.Stop() }()

	timeout := a.cfg.ShutdownTimeout.Duration()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Services did not stop in time")
		return ErrShutdownTimeout
	}
}

// ClearState drops the local mirror of the light group states, used by
// --reset-state.
func (a *App) ClearState() error {
	if a.services == nil {
		return nil
	}
	return a.services.ClearState()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
