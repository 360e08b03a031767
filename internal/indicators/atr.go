package indicators

import (
	"math"

	"github.com/vitos/perp_trader/internal/domain"
)

// TrueRange is defined for every bar; the first bar uses high-low.
func TrueRange(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			out[i] = c.High - c.Low
			continue
		}
		prev := candles[i-1].Close
		out[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
	}
	return out
}

// ATR is Wilder's average true range. The first value is at index period.
func ATR(candles []domain.Candle, period int) []float64 {
	out := undefined(len(candles))
	if period <= 0 || len(candles) <= period {
		return out
	}
	tr := TrueRange(candles)

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	p := float64(period)
	out[period] = sum / p
	for i := period + 1; i < len(candles); i++ {
		out[i] = (out[i-1]*(p-1) + tr[i]) / p
	}
	return out
}
