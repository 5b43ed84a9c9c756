// Package server exposes the settlement service over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/server/handler"
	"github.com/alanyoungcy/poolmarket/internal/server/middleware"
	"github.com/alanyoungcy/poolmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	MaxClockSkew time.Duration
	RateLimit    int
	RateWindow   time.Duration
	// Now overrides the clock used to check request timestamps.
	Now func() time.Time
	// Replay records accepted request signatures. Nil keeps them in memory,
	// which only protects a single instance.
	Replay domain.ReplayGuard
}

// Handlers aggregates the HTTP handlers the server registers. Archive may be
// nil when no object store is configured.
type Handlers struct {
	Health     *handler.HealthHandler
	Settlement *handler.SettlementHandler
	Archive    *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the logging, CORS and
// rate limiting middleware. Mutating routes additionally require a signed
// request. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	signed := middleware.SignedRequest(cfg.MaxClockSkew, cfg.Now, cfg.Replay, logger)
	post := func(pattern string, fn http.HandlerFunc) {
		mux.Handle("POST "+pattern, signed(fn))
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	s := handlers.Settlement
	post("/api/registry", s.Initialize)
	mux.HandleFunc("GET /api/registry", s.GetRegistry)
	post("/api/deposits", s.Deposit)
	mux.HandleFunc("GET /api/accounts/{owner}", s.GetAccount)

	post("/api/markets", s.CreateMarket)
	mux.HandleFunc("GET /api/markets", s.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", s.GetMarket)
	post("/api/markets/{id}/bets", s.PlaceBet)
	mux.HandleFunc("GET /api/markets/{id}/bets/{user}", s.GetBet)
	mux.HandleFunc("GET /api/markets/{id}/events", s.MarketEvents)
	post("/api/markets/{id}/resolve", s.Resolve)
	post("/api/markets/{id}/close", s.Close)
	post("/api/markets/{id}/claim", s.Claim)
	post("/api/markets/{id}/refund", s.Refund)
	post("/api/markets/{id}/fees", s.CollectFees)

	mux.HandleFunc("GET /api/events", s.Events)
	mux.HandleFunc("GET /api/events/stream", s.StreamEvents)
	mux.HandleFunc("GET /api/audit", s.AuditLog)

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.List)
		mux.HandleFunc("GET /api/archive/{id}", handlers.Archive.Get)
		mux.HandleFunc("GET /api/archive/{id}/verify", handlers.Archive.Verify)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
