package usecase

import (
	"context"
	"slices"

	"github.com/vitos/perp_trader/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// Universe returns the current candidate snapshot. Callers must not modify it.
func (e *Engine) Universe() []string {
	return *e.universe.Load()
}

// RefreshUniverse ranks symbols by 24h quote volume, falling back to the
// full eligible list and then to the previous snapshot.
func (e *Engine) RefreshUniverse(ctx context.Context) {
	symbols, err := e.exchange.TopByVolume(ctx, e.cfg.UniverseSize)
	if err != nil {
		e.logger.Warn("volume ranking failed, using full universe", zap.Error(err))
		symbols, err = e.exchange.Universe(ctx)
	}
	if err != nil {
		e.logger.Error("universe refresh failed, keeping previous snapshot",
			zap.Int("symbols", len(e.Universe())), zap.Error(err))
		return
	}

	snapshot := slices.Clone(symbols)
	e.universe.Store(&snapshot)
	metrics.UniverseSize.Set(float64(len(snapshot)))
	e.logger.Info("universe refreshed", zap.Int("symbols", len(snapshot)))

	// the ticker stream must cover held symbols too
	watch := slices.Clone(snapshot)
	for _, pos := range e.positions.Snapshot() {
		if !slices.Contains(watch, pos.Symbol) {
			watch = append(watch, pos.Symbol)
		}
	}
	if e.onUniverse != nil {
		e.onUniverse(watch)
	}

	e.applyLeverage(ctx, snapshot)
}

func (e *Engine) applyLeverage(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		if err := e.ensureLeverage(ctx, sym); err != nil {
			e.logger.Warn("set leverage failed", zap.String("symbol", sym), zap.Error(err))
		}
	}
}

// ensureLeverage sets the configured leverage once per symbol.
func (e *Engine) ensureLeverage(ctx context.Context, symbol string) error {
	if e.cfg.Leverage <= 0 {
		return nil
	}
	e.leverageMu.Lock()
	done := e.leveraged[symbol]
	e.leverageMu.Unlock()
	if done {
		return nil
	}

	if err := e.exchange.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
		return err
	}
	e.leverageMu.Lock()
	e.leveraged[symbol] = true
	e.leverageMu.Unlock()
	return nil
}
