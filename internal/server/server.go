// Package server exposes the desk's query API, its pause control and the
// event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/metrics"
	"github.com/alanyoungcy/polydesk/internal/server/handler"
	"github.com/alanyoungcy/polydesk/internal/server/middleware"
	"github.com/alanyoungcy/polydesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per minute per client; 0 disables
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Desk    *handler.DeskHandler
	Control *handler.ControlHandler // optional
}

// Server is the desk's HTTP + WebSocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. hub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, handlers, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the full handler tree. It is split from NewServer so tests
// can drive it through httptest.
func Routes(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /desk/status", handlers.Desk.Status)
	mux.HandleFunc("GET /desk/trades", handlers.Desk.Trades)
	mux.HandleFunc("GET /desk/positions", handlers.Desk.Positions)
	mux.HandleFunc("GET /desk/report", handlers.Desk.Report)
	if hub != nil {
		mux.HandleFunc("GET /desk/ws", hub.HandleWS)
	}

	// The pause control is only mounted behind an API key.
	switch {
	case handlers.Control == nil:
	case cfg.APIKey == "":
		logger.Warn("server: desk control disabled; set an API key to enable it")
	default:
		mux.HandleFunc("GET /desk/enabled", handlers.Control.GetEnabled)
		mux.HandleFunc("POST /desk/enabled", handlers.Control.SetEnabled)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Recovery(logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
