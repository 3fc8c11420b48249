// Package api exposes the course Q&A service over HTTP.
//
// Endpoints:
//
//	POST /api/query        answer a query within a session
//	POST /api/new-session  start an empty session
//	GET  /api/courses      catalog analytics
//	GET  /health           liveness probe
//	GET  /ready            readiness probe (pings the database)
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: recovery and request logging
//   - query.go: query and session endpoints
//   - courses.go: catalog analytics endpoint
//   - health.go: probes
//   - response.go: JSON helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursechat/coursechat/internal/rag"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8000"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 120 * time.Second
	IdleTimeout  = 120 * time.Second
)

// QueryService is the facade surface the HTTP layer depends on;
// *rag.System satisfies it.
type QueryService interface {
	Query(ctx context.Context, query, sessionID string) (*rag.QueryResult, error)
	NewSession(ctx context.Context) (string, error)
	CourseAnalytics(ctx context.Context) (*rag.Analytics, error)
}

// Server is the HTTP server for the course Q&A API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a server with all routes registered. pool may be
// nil in tests; readiness then reports unavailable.
func NewServer(service QueryService, pool *pgxpool.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	NewQueryHandler(service, logger).RegisterRoutes(mux)
	NewCoursesHandler(service, logger).RegisterRoutes(mux)
	NewHealthHandler(pool, logger).RegisterRoutes(mux)

	return &Server{mux: mux, logger: logger}
}

// Handler returns the handler with middleware applied.
// Order: recovery → logging → routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
