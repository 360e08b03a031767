package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/infrastructure/metrics"
	"github.com/vitos/perp_trader/internal/risk"
	"github.com/vitos/perp_trader/internal/strategy"
	"go.uber.org/zap"
)

var errExposure = fmt.Errorf("%w: position exceeds exposure limit", domain.ErrValidation)

// AnalyzeOnce scans the universe once and returns the number of positions
// opened. Capacity is re-checked before every symbol so a full table never
// costs an exchange call. Cancelling ctx stops the scan between symbols; an
// admission already under way finishes on a detached context.
func (e *Engine) AnalyzeOnce(ctx context.Context) int {
	if e.halted.Load() {
		return 0
	}
	if e.positions.Full() {
		e.logger.Debug("at capacity, skipping scan", zap.Int("positions", e.positions.Size()))
		return 0
	}

	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	opened := 0
	for _, symbol := range e.Universe() {
		if ctx.Err() != nil || e.halted.Load() || e.positions.Full() {
			break
		}
		if e.positions.Contains(symbol) {
			continue
		}

		bars, err := e.market.Load(ctx, symbol, e.requirements)
		if err != nil {
			if domain.HaltsScan(err) {
				e.logger.Warn("stopping scan", zap.String("symbol", symbol), zap.Error(err))
				break
			}
			e.logger.Debug("market data unavailable", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		if sig := e.evaluate(symbol, bars); sig != nil {
			actx, cancel := detach(ctx, workTimeout)
			ok, err := e.admit(actx, symbol, *sig)
			cancel()
			if err != nil {
				e.logger.Warn("admission failed",
					zap.String("symbol", symbol),
					zap.String("strategy", sig.Strategy),
					zap.Error(err))
				if domain.HaltsScan(err) {
					break
				}
			}
			if ok {
				opened++
			}
		}

		if err := e.market.Pause(ctx); err != nil {
			break
		}
	}
	return opened
}

// evaluate returns the first valid signal in strategy priority order.
func (e *Engine) evaluate(symbol string, bars strategy.Bars) *domain.Signal {
	now := e.timeNow()
	for _, s := range e.strategies {
		sig := s.Entry(symbol, bars, now)
		if sig == nil {
			continue
		}
		if err := sig.Validate(); err != nil {
			e.logger.Debug("discarding invalid signal", zap.String("strategy", s.Name()), zap.Error(err))
			continue
		}
		if sig.Strategy == "" {
			sig.Strategy = s.Name()
		}
		return sig
	}
	return nil
}

// admit sizes the signal, reserves the symbol and opens the position with
// its protective orders. The returned bool is true when a position is held.
func (e *Engine) admit(ctx context.Context, symbol string, sig domain.Signal) (bool, error) {
	prec, err := e.exchange.Precision(ctx, symbol)
	if err != nil {
		return false, err
	}
	balance, err := e.exchange.Balance(ctx)
	if err != nil {
		return false, err
	}
	price := sig.Entry
	if e.prices != nil {
		if last, ok := e.prices.LastPrice(symbol); ok {
			price = last
		}
	}
	qty, err := risk.Size(risk.SizingInput{
		Balance:   balance,
		Price:     price,
		Leverage:  e.cfg.Leverage,
		Fraction:  e.cfg.MaxExposure,
		Precision: prec,
	})
	if err != nil {
		return false, err
	}
	if !risk.WithinExposure(qty, price, balance, e.cfg.Leverage, e.cfg.MaxExposure) {
		return false, errExposure
	}

	pos := domain.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       sig.Side,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  e.timeNow(),
		Strategy:   sig.Strategy,
		PrimaryTF:  sig.SourceTF,
		StopPrice:  sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		State:      domain.StateTentative,
	}
	if !e.positions.TryInsert(pos) {
		e.logger.Debug("admission rejected by position table", zap.String("symbol", symbol))
		return false, nil
	}
	metrics.Signals.WithLabelValues(sig.Strategy).Inc()

	if err := e.ensureLeverage(ctx, symbol); err != nil {
		e.logger.Warn("set leverage before entry failed", zap.String("symbol", symbol), zap.Error(err))
	}

	fill, err := e.executor.Open(ctx, symbol, sig.Side, qty)
	if err != nil {
		e.positions.Remove(symbol)
		return false, fmt.Errorf("entry %s: %w", symbol, err)
	}

	stop, target := risk.ProtectiveLevels(sig, fill.AvgPrice, prec)
	pos.EntryPrice = fill.AvgPrice
	pos.Quantity = fill.Quantity
	pos.EntryTime = e.timeNow()
	pos.StopPrice = stop.InexactFloat64()
	pos.TakeProfit = target.InexactFloat64()

	prot, protErr := e.executor.Protect(ctx, pos, stop, target)
	pos.StopOrderID = prot.StopOrderID
	pos.TPOrderID = prot.TPOrderID
	if protErr != nil {
		pos.State = domain.StateClosing
		e.positions.Update(symbol, func(p *domain.Position) { *p = pos })
		e.logger.Error("protective orders failed, closing position",
			zap.String("symbol", symbol), zap.Error(protErr))
		e.forceClose(ctx, pos, domain.ExitManual)
		return false, protErr
	}

	pos.State = domain.StateOpen
	e.positions.Update(symbol, func(p *domain.Position) { *p = pos })
	metrics.PositionsOpen.Set(float64(e.positions.Size()))

	// the drawdown guard may have fired while the entry was in flight;
	// whoever moves the position out of OPEN first closes it
	if e.halted.Load() {
		if e.positions.Transition(symbol, domain.StateOpen, domain.StateClosing) {
			e.forceClose(ctx, pos, domain.ExitEmergency)
		}
		return false, nil
	}

	e.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.String("strategy", pos.Strategy),
		zap.String("tf", pos.PrimaryTF),
		zap.Float64("entry", pos.EntryPrice),
		zap.String("qty", pos.Quantity.String()),
		zap.Float64("sl", pos.StopPrice),
		zap.Float64("tp", pos.TakeProfit))
	e.syncMirror(ctx)
	e.notifier.Notify(openMessage(pos))
	return true, nil
}

// forceClose flattens pos immediately and records the exit. A failed close
// leaves the position OPEN for the monitor to reconcile.
func (e *Engine) forceClose(ctx context.Context, pos domain.Position, exit domain.ExitType) bool {
	exitPrice, err := e.executor.Close(ctx, pos)
	if err != nil {
		e.logger.Error("close failed",
			zap.String("symbol", pos.Symbol),
			zap.String("exit_type", string(exit)),
			zap.Error(err))
		e.positions.Update(pos.Symbol, func(p *domain.Position) { p.State = domain.StateOpen })
		e.notifier.Notify(fmt.Sprintf("⚠️ Failed to close <b>%s</b> (%s), will retry", pos.Symbol, exit))
		return false
	}
	e.finish(ctx, pos, exitPrice, exit)
	return true
}
