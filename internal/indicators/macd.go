package indicators

type MACDResult struct {
	MACD   []float64
	Signal []float64
	Hist   []float64
}

// MACD returns the fast-slow EMA spread, its signal EMA and the histogram.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	line := undefined(len(closes))
	for i := range closes {
		if IsDefined(fastEMA[i]) && IsDefined(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}
	sig := EMA(line, signal)

	hist := undefined(len(closes))
	for i := range closes {
		if IsDefined(line[i]) && IsDefined(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDResult{MACD: line, Signal: sig, Hist: hist}
}
