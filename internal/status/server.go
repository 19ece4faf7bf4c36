// Package status serves the read-only HTTP surface: health, group state,
// weather and metrics, plus presses for virtual switches.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/group"
	"github.com/dokzlo13/daylightd/internal/light"
	"github.com/dokzlo13/daylightd/internal/schedule"
	"github.com/dokzlo13/daylightd/internal/weather"
)

// Groups is the registry view the server reads.
type Groups interface {
	Names() []string
	Get(name string) (*group.Controller, bool)
}

// Presser is a switch that can be pressed over HTTP.
type Presser interface {
	Press(ctx context.Context, in light.Input) error
}

// Options wires the server to the rest of the daemon. Nil fields disable
// the matching endpoints.
type Options struct {
	Groups   Groups
	Weather  weather.Provider
	Switches map[string]Presser
	Gatherer prometheus.Gatherer
	Ready    func() bool
	Clock    schedule.Clock
}

// Server is the status HTTP server.
type Server struct {
	addr       string
	opts       Options
	httpServer *http.Server
}

// NewServer creates a new status server.
func NewServer(host string, port int, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = schedule.SystemClock{}
	}
	return &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		opts: opts,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /ready", s.handleReady)

	if s.opts.Groups != nil {
		mux.HandleFunc("GET /groups", s.handleGroups)
		mux.HandleFunc("GET /groups/{name}", s.handleGroup)
	}
	if s.opts.Weather != nil {
		mux.HandleFunc("GET /weather", s.handleWeather)
	}
	if len(s.opts.Switches) > 0 {
		mux.HandleFunc("POST /switches/{name}/{input}", s.handlePress)
	}
	if s.opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil && !s.opts.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Groups.Names())
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	c, ok := s.opts.Groups.Get(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown light group")
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot(s.opts.Clock.Now()))
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	wx, ok := s.opts.Weather.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, weather.ErrUnavailable.Error())
		return
	}
	writeJSON(w, http.StatusOK, wx)
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sw, ok := s.opts.Switches[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown virtual switch")
		return
	}
	in, err := light.ParseInput(r.PathValue("input"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := sw.Press(ctx, in); err != nil {
		log.Warn().Err(err).Str("switch", name).Msg("Failed to press virtual switch")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"switch": name, "input": in.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
