package indicators

// SMA is the simple moving average. Leading NaNs in values are skipped.
func SMA(values []float64, period int) []float64 {
	out := undefined(len(values))
	start := firstDefined(values)
	if period <= 0 || start < 0 || len(values)-start < period {
		return out
	}
	sum := 0.0
	for i := start; i < len(values); i++ {
		sum += values[i]
		if i-start >= period {
			sum -= values[i-period]
		}
		if i-start >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is seeded with the SMA of the first period values.
func EMA(values []float64, period int) []float64 {
	out := undefined(len(values))
	start := firstDefined(values)
	if period <= 0 || start < 0 || len(values)-start < period {
		return out
	}
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	out[start+period-1] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := start + period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}
