package storage

import (
	"context"
	"errors"

	"github.com/vitos/perp_trader/internal/domain"
)

// MultiSink fans trade and balance records out to every configured sink.
type MultiSink []domain.TradeSink

func (m MultiSink) RecordTrade(ctx context.Context, e domain.TradeLogEntry) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordTrade(ctx, e))
	}
	return errors.Join(errs...)
}

func (m MultiSink) RecordBalance(ctx context.Context, b domain.BalanceSample) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordBalance(ctx, b))
	}
	return errors.Join(errs...)
}
