// Package api exposes the engine over HTTP: sample and alert ingest,
// incident lifecycle operations and the self-healing action surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sentinelstack/sentinel-heal/internal/cache"
	"github.com/sentinelstack/sentinel-heal/internal/healing"
	"github.com/sentinelstack/sentinel-heal/internal/incidents"
	"github.com/sentinelstack/sentinel-heal/internal/normalize"
	"github.com/sentinelstack/sentinel-heal/internal/pipeline"
)

// Config controls the HTTP listener.
type Config struct {
	Address         string
	GracefulTimeout time.Duration
	QueryTTL        time.Duration
}

// Deps are the collaborators the handlers reach into.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Aggregator *incidents.Aggregator
	Engine     *healing.Engine
	Normalizer *normalize.Normalizer
	Cache      cache.Provider
}

// Server owns the HTTP listener lifecycle.
type Server struct {
	cfg    Config
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if deps.Cache == nil {
		deps.Cache = cache.NoopProvider{}
	}

	h := &handlers{deps: deps, queryTTL: cfg.QueryTTL}

	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:              cfg.Address,
			Handler:           newRouter(h),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func newRouter(h *handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/samples", h.submitSamples)

		r.Post("/alerts", h.submitAlert)
		r.Get("/alerts", h.listAlerts)

		r.Get("/incidents", h.listIncidents)
		r.Get("/incidents/{id}", h.getIncident)
		r.Get("/incidents/{id}/alerts", h.incidentAlerts)
		r.Post("/incidents/{id}/acknowledge", h.acknowledgeIncident)
		r.Post("/incidents/{id}/resolve", h.resolveIncident)

		r.Get("/actions", h.listActions)
		r.Post("/actions/{id}/enable", h.enableAction)
		r.Post("/actions/{id}/disable", h.disableAction)
		r.Get("/actions/history", h.actionHistory)
		r.Get("/actions/stats", h.actionStats)

		r.Get("/status", h.status)
	})

	return r
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called; a clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("address", s.cfg.Address))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the graceful timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GracefulTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
