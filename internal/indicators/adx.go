package indicators

import (
	"math"

	"github.com/vitos/perp_trader/internal/domain"
)

type ADXResult struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// ADX implements Wilder's Average Directional Index.
// DI values start at index period, ADX at index 2*period-1.
func ADX(candles []domain.Candle, period int) ADXResult {
	n := len(candles)
	res := ADXResult{ADX: undefined(n), PlusDI: undefined(n), MinusDI: undefined(n)}
	if period <= 0 || n < 2*period {
		return res
	}

	tr := TrueRange(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	p := float64(period)
	var trS, pS, mS float64
	for i := 1; i <= period; i++ {
		trS += tr[i]
		pS += plusDM[i]
		mS += minusDM[i]
	}

	dx := undefined(n)
	for i := period; i < n; i++ {
		if i > period {
			trS = trS - trS/p + tr[i]
			pS = pS - pS/p + plusDM[i]
			mS = mS - mS/p + minusDM[i]
		}
		var plus, minus float64
		if trS > 0 {
			plus = 100 * pS / trS
			minus = 100 * mS / trS
		}
		res.PlusDI[i] = plus
		res.MinusDI[i] = minus
		if sum := plus + minus; sum > 0 {
			dx[i] = 100 * math.Abs(plus-minus) / sum
		} else {
			dx[i] = 0
		}
	}

	first := 2*period - 1
	sum := 0.0
	for i := period; i <= first; i++ {
		sum += dx[i]
	}
	res.ADX[first] = sum / p
	for i := first + 1; i < n; i++ {
		res.ADX[i] = (res.ADX[i-1]*(p-1) + dx[i]) / p
	}
	return res
}
