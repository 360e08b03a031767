package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/infrastructure/metrics"
	"github.com/vitos/perp_trader/internal/strategy"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrEmergencyShutdown is returned by Run after the drawdown guard has
// liquidated the book.
var ErrEmergencyShutdown = errors.New("emergency shutdown")

const (
	shutdownTimeout    = 30 * time.Second
	workTimeout        = time.Minute
	liquidationTimeout = 3 * time.Minute
)

type EngineConfig struct {
	Leverage              int
	MaxExposure           float64
	AnalysisInterval      time.Duration
	PositionCheckInterval time.Duration
	MaxTradeDuration      time.Duration
	EmergencyPeriod       time.Duration
	EmergencyDropPercent  float64
	UniverseSize          int
	UniverseRefresh       time.Duration
	KlineDelay            time.Duration
	ExitGrace             time.Duration
	SummaryTimes          []strategy.ClockTime
	Location              *time.Location
}

// EngineDeps carries every collaborator of the engine. Prices, Sink, Mirror
// and OnUniverse are optional.
type EngineDeps struct {
	Exchange   domain.Exchange
	Strategies []strategy.Strategy
	Reversal   *strategy.ReversalDetector
	Positions  *PositionTable
	TradeLog   *TradeLog
	Notifier   domain.Notifier
	Prices     domain.PriceSource
	Sink       domain.TradeSink
	Mirror     domain.PositionMirror
	OnUniverse func(symbols []string)
	Logger     *zap.Logger
	Clock      func() time.Time
}

type Engine struct {
	cfg        EngineConfig
	exchange   domain.Exchange
	strategies []strategy.Strategy
	byName     map[string]strategy.Strategy
	reversal   *strategy.ReversalDetector
	positions  *PositionTable
	tradeLog   *TradeLog
	notifier   domain.Notifier
	prices     domain.PriceSource
	sink       domain.TradeSink
	mirror     domain.PositionMirror
	onUniverse func([]string)
	logger     *zap.Logger
	timeNow    func() time.Time

	executor     *OrderExecutor
	market       *MarketData
	balances     *BalanceWindow
	requirements []strategy.Requirement

	universe  atomic.Pointer[[]string]
	halted    atomic.Bool
	emergency atomic.Bool

	leverageMu sync.Mutex
	leveraged  map[string]bool
}

func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if deps.Exchange == nil || deps.Positions == nil || deps.TradeLog == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("engine: exchange, positions, trade log and notifier are required")
	}
	if len(deps.Strategies) == 0 {
		return nil, fmt.Errorf("engine: no strategies configured")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Reversal == nil {
		deps.Reversal = strategy.NewReversalDetector(strategy.DefaultConfluenceConfig())
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.AnalysisInterval <= 0 || cfg.PositionCheckInterval <= 0 || cfg.UniverseRefresh <= 0 {
		return nil, fmt.Errorf("engine: loop intervals must be positive")
	}

	groups := make([][]strategy.Requirement, 0, len(deps.Strategies))
	for _, s := range deps.Strategies {
		groups = append(groups, s.Requirements())
	}

	e := &Engine{
		cfg:          cfg,
		exchange:     deps.Exchange,
		strategies:   deps.Strategies,
		byName:       strategy.ByName(deps.Strategies),
		reversal:     deps.Reversal,
		positions:    deps.Positions,
		tradeLog:     deps.TradeLog,
		notifier:     deps.Notifier,
		prices:       deps.Prices,
		sink:         deps.Sink,
		mirror:       deps.Mirror,
		onUniverse:   deps.OnUniverse,
		logger:       deps.Logger.Named("engine"),
		timeNow:      deps.Clock,
		executor:     NewOrderExecutor(deps.Exchange, deps.Logger),
		market:       NewMarketData(deps.Exchange, cfg.KlineDelay),
		balances:     NewBalanceWindow(cfg.EmergencyPeriod),
		requirements: strategy.MergeRequirements(groups...),
		leveraged:    make(map[string]bool),
	}
	empty := []string{}
	e.universe.Store(&empty)
	return e, nil
}

func (e *Engine) Positions() *PositionTable { return e.positions }
func (e *Engine) TradeLog() *TradeLog       { return e.tradeLog }

// Halted reports whether new admissions are blocked.
func (e *Engine) Halted() bool { return e.halted.Load() }

// Run drives the universe, analysis, monitor and summary loops until ctx is
// cancelled or the emergency path fires.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		zap.Int("strategies", len(e.strategies)),
		zap.Int("max_positions", e.positions.Capacity()),
		zap.Int("leverage", e.cfg.Leverage))

	e.RefreshUniverse(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.every(gctx, e.cfg.UniverseRefresh, false, func(ctx context.Context) error {
			e.RefreshUniverse(ctx)
			return nil
		})
	})
	g.Go(func() error {
		return e.every(gctx, e.cfg.AnalysisInterval, true, func(ctx context.Context) error {
			e.AnalyzeOnce(ctx)
			return nil
		})
	})
	g.Go(func() error {
		return e.every(gctx, e.cfg.PositionCheckInterval, true, e.MonitorOnce)
	})
	g.Go(func() error {
		return e.summaryLoop(gctx)
	})

	err := g.Wait()
	if errors.Is(err, ErrEmergencyShutdown) {
		e.sweep()
		e.logger.Error("engine stopped after emergency liquidation")
		return ErrEmergencyShutdown
	}

	e.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// detach returns a context that survives cancellation of ctx and expires
// after timeout. Order sequences run on it; the loops check ctx between
// units of work.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// every calls fn on each tick until ctx ends. An error from fn stops the loop.
func (e *Engine) every(ctx context.Context, interval time.Duration, immediate bool, fn func(context.Context) error) error {
	if immediate {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// Shutdown cancels the protective orders of every remaining position. The
// positions themselves stay open on the exchange.
func (e *Engine) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	remaining := e.positions.Snapshot()
	for _, pos := range remaining {
		if err := e.executor.CancelProtection(ctx, pos.Symbol); err != nil {
			e.logger.Error("cancel protective orders on shutdown failed",
				zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}
	e.logger.Info("engine stopped", zap.Int("positions_left_open", len(remaining)))
	if len(remaining) > 0 {
		e.notifier.Notify(fmt.Sprintf("🛑 Bot stopped. %d position(s) left open without protective orders.", len(remaining)))
	}
}

// sweep flattens whatever the emergency liquidation left behind: positions
// admitted while it ran and positions whose close failed.
func (e *Engine) sweep() {
	left := e.positions.Snapshot()
	if len(left) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), liquidationTimeout)
	defer cancel()

	closed, failed := e.flatten(ctx, left)
	e.logger.Warn("post-emergency sweep",
		zap.Int("closed", closed),
		zap.Strings("failed", failed))
	msg := fmt.Sprintf("🚨 Post-emergency sweep closed %d position(s).", closed)
	if len(failed) > 0 {
		msg += "\nStill open, close manually: " + strings.Join(failed, ", ")
	}
	e.notifier.Notify(msg)
}

func (e *Engine) summaryLoop(ctx context.Context) error {
	if len(e.cfg.SummaryTimes) == 0 {
		<-ctx.Done()
		return nil
	}
	for {
		next := NextFire(e.timeNow(), e.cfg.SummaryTimes, e.cfg.Location)
		timer := time.NewTimer(next.Sub(e.timeNow()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			e.SendSummary()
		}
	}
}

// SendSummary reports the current trade log with two charts.
func (e *Engine) SendSummary() {
	entries := e.tradeLog.Snapshot()
	s := Summarize(entries)
	e.notifier.Notify(s.HTML(e.timeNow().In(e.cfg.Location)))
	if len(entries) == 0 {
		return
	}

	if png, err := RenderEquityCurve(entries); err != nil {
		e.logger.Warn("render equity curve failed", zap.Error(err))
	} else {
		e.notifier.NotifyPhoto("Equity curve (USDT)", png)
	}
	if png, err := RenderPnLHistogram(entries); err != nil {
		e.logger.Warn("render pnl histogram failed", zap.Error(err))
	} else {
		e.notifier.NotifyPhoto("PnL distribution (%)", png)
	}
}

// finish removes pos, appends its trade-log entry and publishes the close.
func (e *Engine) finish(ctx context.Context, pos domain.Position, exitPrice float64, exit domain.ExitType) domain.TradeLogEntry {
	e.positions.Remove(pos.Symbol)
	entry := e.tradeLog.Append(closedTrade(pos, exitPrice, exit, e.timeNow()))

	metrics.TradesClosed.WithLabelValues(string(exit)).Inc()
	metrics.PositionsOpen.Set(float64(e.positions.Size()))
	e.logger.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.String("strategy", pos.Strategy),
		zap.String("exit_type", string(exit)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl_pct", entry.PnLPct),
		zap.Float64("pnl_usdt", entry.PnLUSDT))

	if e.sink != nil {
		if err := e.sink.RecordTrade(ctx, entry); err != nil {
			e.logger.Warn("persist trade failed", zap.String("id", entry.ID), zap.Error(err))
		}
	}
	e.syncMirror(ctx)
	e.notifier.Notify(closeMessage(entry))
	return entry
}

func (e *Engine) syncMirror(ctx context.Context) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.SyncPositions(ctx, e.positions.Snapshot()); err != nil {
		e.logger.Debug("position mirror sync failed", zap.Error(err))
	}
}

func openMessage(pos domain.Position) string {
	icon := "🟢"
	if pos.Side == domain.SideShort {
		icon = "🔴"
	}
	return fmt.Sprintf("%s <b>%s %s</b> [%s %s]\nEntry: %g\nQty: %s\nSL: %g\nTP: %g",
		icon, pos.Side, pos.Symbol, pos.Strategy, pos.PrimaryTF,
		pos.EntryPrice, pos.Quantity.String(), pos.StopPrice, pos.TakeProfit)
}

func closeMessage(t domain.TradeLogEntry) string {
	icon := "✅"
	if t.PnLPct < 0 {
		icon = "❌"
	}
	return fmt.Sprintf("%s <b>%s %s closed</b> (%s)\nEntry: %g → Exit: %g\nPnL: %+.2f%% / %+.2f USDT",
		icon, t.Side, t.Symbol, t.ExitType, t.EntryPrice, t.ExitPrice, t.PnLPct, t.PnLUSDT)
}
