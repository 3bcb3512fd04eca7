package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"itemstore/internal/config"
	"itemstore/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the item CRUD API over HTTP.
type HTTPServer struct {
	cfg      *config.Config
	store    domain.ItemStore
	events   domain.EventPublisher
	logger   *zerolog.Logger
	validate *validator.Validate
	server   *http.Server
}

func NewHTTPServer(cfg *config.Config, store domain.ItemStore, events domain.EventPublisher, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		store:    store,
		events:   events,
		logger:   logger,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoveryMiddleware(logger))
	r.Use(corsMiddleware)
	if cfg.RateLimit.Enabled {
		r.Use(newRateLimiter(cfg.RateLimit).wrap)
	}
	r.Use(contentTypeMiddleware)

	// Custom handlers keep error bodies JSON on routing misses; subrouters
	// inherit them, so they must be set before the routes are mounted.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", srv.handleHealthz)
	r.Get("/readyz", srv.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", srv.handleListItems)
			r.Post("/", srv.handleCreateItem)
			r.Get("/{id}", srv.handleGetItem)
			r.Put("/{id}", srv.handleUpdateItem)
			r.Delete("/{id}", srv.handleDeleteItem)
		})
	})

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Count(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
