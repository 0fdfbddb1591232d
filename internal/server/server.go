// Package server exposes the settlement engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bullieverse/marketd/internal/domain"
	"github.com/bullieverse/marketd/internal/server/handler"
	"github.com/bullieverse/marketd/internal/server/middleware"
	"github.com/bullieverse/marketd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit caps requests per client IP per second when a limiter is
	// provided. Zero disables the middleware.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Fills  *handler.FillHandler
	Admin  *handler.AdminHandler
}

// Server is the HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain: CORS,
// request logging, authentication, and optional per-IP rate limiting.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check, unauthenticated.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Settlement endpoints.
	mux.HandleFunc("POST /api/fills", handlers.Fills.PlaceFill)
	mux.HandleFunc("GET /api/fills", handlers.Fills.ListFills)
	mux.HandleFunc("POST /api/listings/cancel", handlers.Fills.CancelListings)

	// Fee schedule is public; mutations live under /api/admin.
	mux.HandleFunc("GET /api/fees", handlers.Admin.GetFees)
	mux.HandleFunc("PUT /api/admin/fees", handlers.Admin.UpdateFees)
	mux.HandleFunc("POST /api/admin/payment-tokens", handlers.Admin.AddPaymentToken)
	mux.HandleFunc("DELETE /api/admin/payment-tokens", handlers.Admin.RemovePaymentToken)
	mux.HandleFunc("POST /api/admin/registrants", handlers.Admin.AddRegistrant)
	mux.HandleFunc("POST /api/admin/archive", handlers.Admin.TriggerArchive)
	mux.HandleFunc("GET /api/admin/archives", handlers.Admin.ListArchives)

	// Fill feed.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second)(h)
	}
	h = middleware.APIKey(cfg.APIKey)(h)
	h = middleware.AccessLog(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start listens for HTTP requests, blocking until failure or shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
