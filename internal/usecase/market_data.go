package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/strategy"
)

// MarketData loads the closed candles strategies need, pausing between
// exchange calls so a full universe scan stays under the request budget.
type MarketData struct {
	exchange domain.Exchange
	delay    time.Duration
}

func NewMarketData(exchange domain.Exchange, delay time.Duration) *MarketData {
	return &MarketData{exchange: exchange, delay: delay}
}

// Load fetches every requirement for symbol. A short series is not an
// error here; strategies reject it themselves.
func (m *MarketData) Load(ctx context.Context, symbol string, reqs []strategy.Requirement) (strategy.Bars, error) {
	bars := make(strategy.Bars, len(reqs))
	for i, r := range reqs {
		if i > 0 {
			if err := sleepCtx(ctx, m.delay); err != nil {
				return nil, err
			}
		}
		candles, err := m.exchange.Klines(ctx, symbol, r.Timeframe, r.Bars)
		if err != nil {
			return nil, fmt.Errorf("klines %s %s: %w", symbol, r.Timeframe, err)
		}
		bars[r.Timeframe] = candles
	}
	return bars, nil
}

// Pause waits for the inter-call delay.
func (m *MarketData) Pause(ctx context.Context) error {
	return sleepCtx(ctx, m.delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
