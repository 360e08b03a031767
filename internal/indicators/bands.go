package indicators

import (
	"math"

	"github.com/vitos/perp_trader/internal/domain"
)

type BandsResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger bands use the population standard deviation.
func Bollinger(closes []float64, period int, mult float64) BandsResult {
	n := len(closes)
	res := BandsResult{Upper: undefined(n), Middle: SMA(closes, period), Lower: undefined(n)}
	for i := range closes {
		mid := res.Middle[i]
		if !IsDefined(mid) {
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mid
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		res.Upper[i] = mid + mult*sd
		res.Lower[i] = mid - mult*sd
	}
	return res
}

type StochasticResult struct {
	K []float64
	D []float64
}

// Stochastic returns %K over kPeriod bars and %D as the SMA of %K.
func Stochastic(candles []domain.Candle, kPeriod, dPeriod int) StochasticResult {
	k := undefined(len(candles))
	if kPeriod > 0 {
		for i := kPeriod - 1; i < len(candles); i++ {
			hh := Highest(candles, i-kPeriod+1, i+1)
			ll := Lowest(candles, i-kPeriod+1, i+1)
			if hh == ll {
				k[i] = 50
				continue
			}
			k[i] = 100 * (candles[i].Close - ll) / (hh - ll)
		}
	}
	return StochasticResult{K: k, D: SMA(k, dPeriod)}
}
