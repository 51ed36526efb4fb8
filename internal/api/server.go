// Package api serves the feature table, dump sessions and live session
// events over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/diagdump/internal/auth"
	"github.com/mattjoyce/diagdump/internal/dump"
	"github.com/mattjoyce/diagdump/internal/events"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/history"
)

// Dumper runs dump sessions and exposes the feature table.
type Dumper interface {
	Run(ctx context.Context, req dump.Request) (*dump.Summary, error)
	Features() (*featuremap.Registry, error)
	Busy() bool
}

// SessionStore reads recorded sessions.
type SessionStore interface {
	List(ctx context.Context, limit int) ([]history.Session, error)
	Get(ctx context.Context, id string) (*history.Session, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Tokens is the list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// InterruptGrace is the soft-stop grace for sessions whose client goes away.
	InterruptGrace time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	auth      *auth.Authenticator
	dumper    Dumper
	sessions  SessionStore
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. sessions may be nil when history
// is unavailable.
func New(config Config, dumper Dumper, sessions SessionStore, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		auth:      auth.NewAuthenticator(config.Tokens),
		dumper:    dumper,
		sessions:  sessions,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.setupRoutes() }

// Start serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Dumps are synchronous and may take minutes; SSE streams are long lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeFeaturesRO)).Get("/features", s.handleListFeatures)
		r.With(s.requireScopes(auth.ScopeFeaturesRO)).Get("/features/{name}", s.handleGetFeature)
		r.With(s.requireScopes(auth.ScopeDumpsRW)).Post("/dumps/{feature}", s.handleDump)
		r.With(s.requireScopes(auth.ScopeDumpsRO)).Get("/sessions", s.handleListSessions)
		r.With(s.requireScopes(auth.ScopeDumpsRO)).Get("/sessions/{id}", s.handleGetSession)
		r.With(s.requireScopes(auth.ScopeDumpsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
