package risk

import (
	"github.com/shopspring/decimal"
	"github.com/vitos/perp_trader/internal/domain"
)

// QuantizeQty floors x to the quantity decimals and then to the step size.
func QuantizeQty(x decimal.Decimal, p domain.Precision) decimal.Decimal {
	q := x.RoundFloor(p.QtyDecimals)
	if p.StepSize.IsPositive() {
		q = q.Div(p.StepSize).Floor().Mul(p.StepSize)
	}
	return q.RoundFloor(p.QtyDecimals)
}

// QuantizePrice rounds x half-even to the price decimals and tick size.
func QuantizePrice(x decimal.Decimal, p domain.Precision) decimal.Decimal {
	q := x.RoundBank(p.PriceDecimals)
	if p.TickSize.IsPositive() {
		q = q.Div(p.TickSize).RoundBank(0).Mul(p.TickSize)
	}
	return q.RoundBank(p.PriceDecimals)
}

// ProtectiveLevels moves the signal's stop and target so they keep their
// distance from the planned entry when the fill lands elsewhere.
func ProtectiveLevels(sig domain.Signal, fillPrice float64, p domain.Precision) (stop, target decimal.Decimal) {
	if fillPrice <= 0 {
		fillPrice = sig.Entry
	}
	shift := fillPrice - sig.Entry
	stop = QuantizePrice(decimal.NewFromFloat(sig.StopLoss+shift), p)
	target = QuantizePrice(decimal.NewFromFloat(sig.TakeProfit+shift), p)
	return stop, target
}
