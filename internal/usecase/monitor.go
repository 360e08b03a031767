package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/infrastructure/metrics"
	"github.com/vitos/perp_trader/internal/risk"
	"go.uber.org/zap"
)

// MonitorOnce samples the balance, runs the drawdown guard and then checks
// every open position. It returns ErrEmergencyShutdown once the guard fires
// and an error wrapping domain.ErrAuth when the exchange rejects the
// credentials. Exchange work runs on a detached context; cancelling ctx
// stops the pass between positions.
func (e *Engine) MonitorOnce(ctx context.Context) error {
	if e.emergency.Load() {
		return ErrEmergencyShutdown
	}
	now := e.timeNow()

	wctx, cancel := detach(ctx, workTimeout)
	defer cancel()

	balance, err := e.exchange.Balance(wctx)
	switch {
	case errors.Is(err, domain.ErrAuth):
		e.logger.Error("exchange rejected credentials, shutting down", zap.Error(err))
		e.notifier.Notify("🔑 Exchange rejected the API credentials. Bot is shutting down.")
		return fmt.Errorf("balance sample: %w", err)
	case err != nil:
		e.logger.Warn("balance sample failed", zap.Error(err))
	case e.RecordBalance(wctx, domain.BalanceSample{Time: now, USDT: balance}):
		return ErrEmergencyShutdown
	}

	for _, pos := range e.positions.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		if pos.State != domain.StateOpen {
			continue
		}
		pctx, cancel := detach(ctx, workTimeout)
		e.checkPosition(pctx, pos, now)
		cancel()
	}

	metrics.PositionsOpen.Set(float64(e.positions.Size()))
	e.syncMirror(wctx)
	return nil
}

// RecordBalance adds a sample to the drawdown window and reports whether the
// emergency path ran.
func (e *Engine) RecordBalance(ctx context.Context, sample domain.BalanceSample) bool {
	e.balances.Add(sample)
	metrics.Balance.Set(sample.USDT)
	if e.sink != nil {
		if err := e.sink.RecordBalance(ctx, sample); err != nil {
			e.logger.Debug("persist balance failed", zap.Error(err))
		}
	}

	dd := e.balances.Drawdown()
	metrics.Drawdown.Set(dd)
	if e.cfg.EmergencyDropPercent <= 0 || dd < e.cfg.EmergencyDropPercent {
		return false
	}
	e.liquidate(ctx, dd)
	return true
}

// liquidate runs at most once per engine: it blocks admissions and closes
// each OPEN position on its opposite side. Positions still being admitted
// are flattened by the admission itself once it sees the halt.
func (e *Engine) liquidate(ctx context.Context, drawdown float64) {
	if !e.emergency.CompareAndSwap(false, true) {
		return
	}
	e.halted.Store(true)
	metrics.Emergencies.Inc()

	ctx, cancel := detach(ctx, liquidationTimeout)
	defer cancel()

	positions := e.positions.Snapshot()
	e.logger.Error("emergency drawdown, liquidating",
		zap.Float64("drawdown_pct", drawdown),
		zap.Float64("threshold_pct", e.cfg.EmergencyDropPercent),
		zap.Int("positions", len(positions)))

	closed, failed := e.flatten(ctx, positions)

	msg := fmt.Sprintf("🚨 <b>EMERGENCY</b>: balance down %.2f%% within %s.\nClosed %d position(s). Bot is shutting down.",
		drawdown, e.cfg.EmergencyPeriod, closed)
	if len(failed) > 0 {
		msg += "\nFailed to close: " + strings.Join(failed, ", ")
	}
	e.notifier.Notify(msg)
}

// flatten claims every OPEN position in positions and closes it as
// EMERGENCY. A failed close returns the position to OPEN.
func (e *Engine) flatten(ctx context.Context, positions []domain.Position) (closed int, failed []string) {
	for _, pos := range positions {
		if !e.positions.Transition(pos.Symbol, domain.StateOpen, domain.StateClosing) {
			continue
		}
		exitPrice, err := e.executor.Close(ctx, pos)
		if err != nil {
			e.logger.Error("emergency close failed", zap.String("symbol", pos.Symbol), zap.Error(err))
			e.positions.Transition(pos.Symbol, domain.StateClosing, domain.StateOpen)
			failed = append(failed, pos.Symbol)
			continue
		}
		e.finish(ctx, pos, exitPrice, domain.ExitEmergency)
		closed++
	}
	return closed, failed
}

func (e *Engine) checkPosition(ctx context.Context, pos domain.Position, now time.Time) {
	log := e.logger.With(zap.String("symbol", pos.Symbol), zap.String("strategy", pos.Strategy))

	amount, err := e.exchange.PositionAmount(ctx, pos.Symbol)
	if err != nil {
		log.Warn("position lookup failed", zap.Error(err))
	} else if amount == 0 {
		e.observedExit(ctx, pos)
		return
	}

	age := pos.Age(now)
	if e.timecutDue(pos, age) {
		log.Info("timecut reached", zap.Duration("age", age))
		e.closeOpen(ctx, pos, domain.ExitTimecut)
		return
	}

	if age > e.cfg.ExitGrace && e.exitSignal(ctx, pos, now) {
		log.Info("reversal detected", zap.Duration("age", age))
		e.closeOpen(ctx, pos, domain.ExitReversal)
		return
	}

	e.verifyProtection(ctx, pos)
}

func (e *Engine) timecutDue(pos domain.Position, age time.Duration) bool {
	if e.cfg.MaxTradeDuration > 0 && age >= e.cfg.MaxTradeDuration {
		return true
	}
	if s, ok := e.byName[pos.Strategy]; ok {
		if tc := s.Params().Timecut; tc > 0 && age >= tc {
			return true
		}
	}
	return false
}

// exitSignal asks the position's strategy for an exit. Positions whose
// strategy is not loaded use the generic reversal detector.
func (e *Engine) exitSignal(ctx context.Context, pos domain.Position, now time.Time) bool {
	s, ok := e.byName[pos.Strategy]
	reqs := e.reversal.Requirements()
	if ok {
		reqs = s.Requirements()
	}
	bars, err := e.market.Load(ctx, pos.Symbol, reqs)
	if err != nil {
		e.logger.Debug("exit data unavailable", zap.String("symbol", pos.Symbol), zap.Error(err))
		return false
	}
	if ok {
		return s.Exit(pos, bars, now)
	}
	return e.reversal.Reversed(pos, bars)
}

// closeOpen moves an OPEN position to CLOSING and flattens it.
func (e *Engine) closeOpen(ctx context.Context, pos domain.Position, exit domain.ExitType) {
	if !e.positions.Transition(pos.Symbol, domain.StateOpen, domain.StateClosing) {
		return
	}
	e.forceClose(ctx, pos, exit)
}

// observedExit handles a position the exchange already flattened. The
// protective order left resting tells which one filled.
func (e *Engine) observedExit(ctx context.Context, pos domain.Position) {
	if !e.positions.Transition(pos.Symbol, domain.StateOpen, domain.StateClosing) {
		return
	}
	exit, price := domain.ExitManual, 0.0

	st, err := e.executor.Inspect(ctx, pos.Symbol)
	if err != nil {
		e.logger.Warn("inspect orders failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		e.positions.Transition(pos.Symbol, domain.StateClosing, domain.StateOpen)
		return
	}
	switch {
	case st.HasStop && !st.HasTP:
		exit, price = domain.ExitTP, pos.TakeProfit
	case st.HasTP && !st.HasStop:
		exit, price = domain.ExitSL, pos.StopPrice
	case !st.HasStop && !st.HasTP:
		exit, price = e.classifyByMark(ctx, pos)
	}
	if price == 0 {
		if mark, err := e.exchange.MarkPrice(ctx, pos.Symbol); err == nil {
			price = mark
		}
	}

	if err := e.executor.CancelProtection(ctx, pos.Symbol); err != nil {
		e.logger.Warn("cancel leftover orders failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	e.finish(ctx, pos, price, exit)
}

// classifyByMark decides between TP and SL when both protective orders are
// gone, by which trigger the mark price sits beyond.
func (e *Engine) classifyByMark(ctx context.Context, pos domain.Position) (domain.ExitType, float64) {
	mark, err := e.exchange.MarkPrice(ctx, pos.Symbol)
	if err != nil {
		return domain.ExitManual, 0
	}
	if (mark-pos.EntryPrice)*pos.Side.Sign() > 0 {
		return domain.ExitTP, pos.TakeProfit
	}
	return domain.ExitSL, pos.StopPrice
}

// verifyProtection re-places missing protective orders and force closes the
// position when that fails.
func (e *Engine) verifyProtection(ctx context.Context, pos domain.Position) {
	st, err := e.executor.Inspect(ctx, pos.Symbol)
	if err != nil {
		e.logger.Warn("inspect orders failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		return
	}
	if st.Complete() {
		return
	}

	e.logger.Warn("protective order missing",
		zap.String("symbol", pos.Symbol),
		zap.Bool("has_stop", st.HasStop),
		zap.Bool("has_tp", st.HasTP))

	prec, err := e.exchange.Precision(ctx, pos.Symbol)
	if err == nil {
		stop := risk.QuantizePrice(decimal.NewFromFloat(pos.StopPrice), prec)
		target := risk.QuantizePrice(decimal.NewFromFloat(pos.TakeProfit), prec)
		var prot Protection
		prot, err = e.executor.Repair(ctx, pos, st, stop, target)
		if err == nil {
			e.positions.Update(pos.Symbol, func(p *domain.Position) {
				p.StopOrderID = prot.StopOrderID
				p.TPOrderID = prot.TPOrderID
			})
			return
		}
	}

	e.logger.Error("re-placing protective orders failed, closing", zap.String("symbol", pos.Symbol), zap.Error(err))
	e.closeOpen(ctx, pos, domain.ExitManual)
}
