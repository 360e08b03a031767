package indicators

import "github.com/vitos/perp_trader/internal/domain"

// OBV is the volume-signed cumulative sum; it is defined from the first bar.
func OBV(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			out[i] = out[i-1] + candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			out[i] = out[i-1] - candles[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// VolumeSpike reports whether the last bar's volume exceeds k times the mean
// volume of the lookback bars before it.
func VolumeSpike(candles []domain.Candle, lookback int, k float64) bool {
	n := len(candles)
	if lookback <= 0 || n < lookback+1 {
		return false
	}
	sum := 0.0
	for i := n - 1 - lookback; i < n-1; i++ {
		sum += candles[i].Volume
	}
	mean := sum / float64(lookback)
	return mean > 0 && candles[n-1].Volume > k*mean
}
