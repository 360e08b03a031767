package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// PositionSource is the live position table.
type PositionSource interface {
	Snapshot() []domain.Position
}

// TradeSource is the in-memory trade log.
type TradeSource interface {
	Snapshot() []domain.TradeLogEntry
}

// Journal serves persisted history. Optional.
type Journal interface {
	ListTrades(ctx context.Context, limit int) ([]domain.TradeLogEntry, error)
	ListBalances(ctx context.Context, since time.Time) ([]domain.BalanceSample, error)
}

type Status interface {
	Halted() bool
	Universe() []string
}

type Server struct {
	router    chi.Router
	server    *http.Server
	positions PositionSource
	trades    TradeSource
	journal   Journal
	status    Status
	logger    *zap.Logger
	timeNow   func() time.Time
	started   time.Time
}

func NewServer(
	addr string,
	positions PositionSource,
	trades TradeSource,
	journal Journal,
	status Status,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		positions: positions,
		trades:    trades,
		journal:   journal,
		status:    status,
		logger:    logger.Named("web"),
		timeNow:   time.Now,
	}
	s.started = s.timeNow()
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(metrics.Middleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/positions", s.handlePositions)
		r.Get("/trades", s.handleTrades)
		r.Get("/trades/history", s.handleTradeHistory)
		r.Get("/balances", s.handleBalances)
		r.Get("/summary", s.handleSummary)
		r.Get("/universe", s.handleUniverse)
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting ops server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
