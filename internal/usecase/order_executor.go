package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// OrderExecutor places entry, protective and closing orders.
type OrderExecutor struct {
	exchange domain.Exchange
	logger   *zap.Logger
}

func NewOrderExecutor(exchange domain.Exchange, logger *zap.Logger) *OrderExecutor {
	return &OrderExecutor{
		exchange: exchange,
		logger:   logger.Named("orders"),
	}
}

// Open places the market entry for side.
func (e *OrderExecutor) Open(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (*domain.Fill, error) {
	if side != domain.SideLong && side != domain.SideShort {
		return nil, fmt.Errorf("%w: invalid side %q", domain.ErrValidation, string(side))
	}
	fill, err := e.exchange.MarketOrder(ctx, symbol, side, qty, false)
	metrics.Orders.WithLabelValues(string(domain.OrderTypeMarket), metrics.OrderResult(err)).Inc()
	return fill, err
}

// Protection is the pair of protective order IDs for a position.
type Protection struct {
	StopOrderID int64
	TPOrderID   int64
}

// Protect places the stop-loss and take-profit for pos. Close-position mode
// is tried first; a rejection falls back to reduce-only orders sized to the
// position. When one of the two cannot be placed at all the error is
// returned along with whatever was placed.
func (e *OrderExecutor) Protect(ctx context.Context, pos domain.Position, stop, target decimal.Decimal) (Protection, error) {
	var p Protection
	var err error
	p.StopOrderID, err = e.place(ctx, domain.OrderTypeStopMarket, pos, stop)
	if err != nil {
		return p, fmt.Errorf("stop loss %s: %w", pos.Symbol, err)
	}
	p.TPOrderID, err = e.place(ctx, domain.OrderTypeTakeProfitMarket, pos, target)
	if err != nil {
		return p, fmt.Errorf("take profit %s: %w", pos.Symbol, err)
	}
	return p, nil
}

func (e *OrderExecutor) place(ctx context.Context, typ domain.OrderType, pos domain.Position, price decimal.Decimal) (int64, error) {
	order := domain.ProtectiveOrder{
		Symbol:        pos.Symbol,
		Side:          pos.Side.Opposite(),
		StopPrice:     price,
		Quantity:      pos.Quantity,
		ClosePosition: true,
	}
	id, err := e.submit(ctx, typ, order)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrValidation) {
		return 0, err
	}

	e.logger.Warn("close-position order rejected, falling back to reduce-only",
		zap.String("symbol", pos.Symbol),
		zap.String("type", string(typ)),
		zap.Error(err))
	order.ClosePosition = false
	return e.submit(ctx, typ, order)
}

func (e *OrderExecutor) submit(ctx context.Context, typ domain.OrderType, order domain.ProtectiveOrder) (int64, error) {
	var id int64
	var err error
	if typ == domain.OrderTypeStopMarket {
		id, err = e.exchange.StopMarket(ctx, order)
	} else {
		id, err = e.exchange.TakeProfitMarket(ctx, order)
	}
	metrics.Orders.WithLabelValues(string(typ), metrics.OrderResult(err)).Inc()
	return id, err
}

// Close cancels the symbol's open orders and flattens pos with a reduce-only
// market order on the opposite side. It returns the exit price.
func (e *OrderExecutor) Close(ctx context.Context, pos domain.Position) (float64, error) {
	if err := e.exchange.CancelAll(ctx, pos.Symbol); err != nil {
		e.logger.Warn("cancel before close failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	fill, err := e.exchange.MarketOrder(ctx, pos.Symbol, pos.Side.Opposite(), pos.Quantity, true)
	metrics.Orders.WithLabelValues(string(domain.OrderTypeMarket), metrics.OrderResult(err)).Inc()
	if err != nil {
		return 0, fmt.Errorf("close %s %s: %w", pos.Side, pos.Symbol, err)
	}
	return fill.AvgPrice, nil
}

// CancelProtection removes every open order on the symbol.
func (e *OrderExecutor) CancelProtection(ctx context.Context, symbol string) error {
	return e.exchange.CancelAll(ctx, symbol)
}

// ProtectionState reports which protective orders are still resting.
type ProtectionState struct {
	HasStop bool
	HasTP   bool
}

func (s ProtectionState) Complete() bool {
	return s.HasStop && s.HasTP
}

func (e *OrderExecutor) Inspect(ctx context.Context, symbol string) (ProtectionState, error) {
	orders, err := e.exchange.OpenOrders(ctx, symbol)
	if err != nil {
		return ProtectionState{}, err
	}
	var st ProtectionState
	for _, o := range orders {
		switch o.Type {
		case domain.OrderTypeStopMarket:
			st.HasStop = true
		case domain.OrderTypeTakeProfitMarket:
			st.HasTP = true
		}
	}
	return st, nil
}

// Repair re-places whichever protective order is missing.
func (e *OrderExecutor) Repair(ctx context.Context, pos domain.Position, st ProtectionState, stop, target decimal.Decimal) (Protection, error) {
	p := Protection{StopOrderID: pos.StopOrderID, TPOrderID: pos.TPOrderID}
	var err error
	if !st.HasStop {
		if p.StopOrderID, err = e.place(ctx, domain.OrderTypeStopMarket, pos, stop); err != nil {
			return p, fmt.Errorf("re-place stop loss %s: %w", pos.Symbol, err)
		}
	}
	if !st.HasTP {
		if p.TPOrderID, err = e.place(ctx, domain.OrderTypeTakeProfitMarket, pos, target); err != nil {
			return p, fmt.Errorf("re-place take profit %s: %w", pos.Symbol, err)
		}
	}
	return p, nil
}
