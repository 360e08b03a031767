package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Exchange is the futures venue as seen by the engine.
type Exchange interface {
	Universe(ctx context.Context) ([]string, error)
	TopByVolume(ctx context.Context, n int) ([]string, error)
	Klines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	Balance(ctx context.Context) (float64, error)
	Precision(ctx context.Context, symbol string) (Precision, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	MarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal, reduceOnly bool) (*Fill, error)
	StopMarket(ctx context.Context, order ProtectiveOrder) (int64, error)
	TakeProfitMarket(ctx context.Context, order ProtectiveOrder) (int64, error)
	CancelAll(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	PositionAmount(ctx context.Context, symbol string) (float64, error)
}

// PriceSource serves last traded prices from the ticker stream.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Notifier delivers chat messages. Implementations must not block.
type Notifier interface {
	Notify(text string)
	NotifyPhoto(caption string, png []byte)
}

// TradeSink persists closed trades and balance samples.
type TradeSink interface {
	RecordTrade(ctx context.Context, entry TradeLogEntry) error
	RecordBalance(ctx context.Context, sample BalanceSample) error
}

// PositionMirror publishes the position table to an external store.
type PositionMirror interface {
	SyncPositions(ctx context.Context, positions []Position) error
}
