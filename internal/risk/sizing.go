// Package risk converts account state into order quantities and quantizes
// prices and quantities to symbol precision.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/perp_trader/internal/domain"
)

var (
	ErrBelowMinQty      = fmt.Errorf("%w: quantity below min qty", domain.ErrValidation)
	ErrBelowMinNotional = fmt.Errorf("%w: notional below min notional", domain.ErrValidation)
	ErrInvalidInput     = fmt.Errorf("%w: invalid sizing input", domain.ErrValidation)
)

type SizingInput struct {
	Balance   float64
	Price     float64
	Leverage  int
	Fraction  float64
	Precision domain.Precision
}

// Size returns floor(balance * leverage * fraction / price) at the symbol's
// quantity precision and rejects results under min qty or min notional.
func Size(in SizingInput) (decimal.Decimal, error) {
	if in.Balance <= 0 || in.Price <= 0 || in.Leverage <= 0 || in.Fraction <= 0 {
		return decimal.Zero, fmt.Errorf("%w: balance=%v price=%v leverage=%d fraction=%v",
			ErrInvalidInput, in.Balance, in.Price, in.Leverage, in.Fraction)
	}

	price := decimal.NewFromFloat(in.Price)
	notional := decimal.NewFromFloat(in.Balance).
		Mul(decimal.NewFromInt(int64(in.Leverage))).
		Mul(decimal.NewFromFloat(in.Fraction))
	qty := QuantizeQty(notional.Div(price), in.Precision)

	if qty.LessThan(in.Precision.MinQty) || qty.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s < %s", ErrBelowMinQty, qty, in.Precision.MinQty)
	}
	if qty.Mul(price).LessThan(in.Precision.MinNotional) {
		return decimal.Zero, fmt.Errorf("%w: %s < %s", ErrBelowMinNotional, qty.Mul(price), in.Precision.MinNotional)
	}
	return qty, nil
}

// WithinExposure checks qty * price / leverage <= balance * maxExposure.
func WithinExposure(qty decimal.Decimal, price, balance float64, leverage int, maxExposure float64) bool {
	if leverage <= 0 {
		return false
	}
	margin := qty.Mul(decimal.NewFromFloat(price)).Div(decimal.NewFromInt(int64(leverage)))
	limit := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(maxExposure))
	return margin.LessThanOrEqual(limit)
}
