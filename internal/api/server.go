package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/notescribe/internal/config"
	"github.com/snarg/notescribe/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Handlers groups the route handlers the server mounts.
type Handlers struct {
	Health         *HealthHandler
	Events         *EventsHandler
	Transcriptions *TranscriptionsHandler
	Transcripts    *TranscriptsHandler // nil when archiving is disabled
}

func NewServer(cfg *config.Config, h Handlers, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(cfg, h, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg *config.Config, h Handlers, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Health endpoint — no auth
		r.Get("/health", h.Health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			h.Events.Routes(r)
			h.Transcriptions.Routes(r)
			if h.Transcripts != nil {
				h.Transcripts.Routes(r)
			}
		})
	})

	return r
}

// OnShutdown registers f to run when Shutdown begins. Long-lived streams use
// it to end their handlers.
func (s *Server) OnShutdown(f func()) {
	s.http.RegisterOnShutdown(f)
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
