// Package indicators implements technical indicators as pure functions.
// Every returned series has the length of its input; positions that are
// still warming up hold NaN.
package indicators

import (
	"math"

	"github.com/vitos/perp_trader/internal/domain"
)

// IsDefined reports whether v is a computed value rather than a warmup NaN.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func firstDefined(values []float64) int {
	for i, v := range values {
		if IsDefined(v) {
			return i
		}
	}
	return -1
}

// Last returns the final element or NaN for an empty series.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// At returns values[len-1-back] or NaN when out of range.
func At(values []float64, back int) float64 {
	i := len(values) - 1 - back
	if i < 0 || i >= len(values) {
		return math.NaN()
	}
	return values[i]
}

func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func Volumes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// Highest returns the max high over candles[from:to].
func Highest(candles []domain.Candle, from, to int) float64 {
	h := math.Inf(-1)
	for i := from; i < to && i < len(candles); i++ {
		if candles[i].High > h {
			h = candles[i].High
		}
	}
	return h
}

// Lowest returns the min low over candles[from:to].
func Lowest(candles []domain.Candle, from, to int) float64 {
	l := math.Inf(1)
	for i := from; i < to && i < len(candles); i++ {
		if candles[i].Low < l {
			l = candles[i].Low
		}
	}
	return l
}

// CrossOver reports a crossing of a above b on the last bar.
func CrossOver(a, b []float64) bool {
	a0, a1, b0, b1 := At(a, 1), At(a, 0), At(b, 1), At(b, 0)
	if !IsDefined(a0) || !IsDefined(a1) || !IsDefined(b0) || !IsDefined(b1) {
		return false
	}
	return a0 <= b0 && a1 > b1
}

// CrossUnder reports a crossing of a below b on the last bar.
func CrossUnder(a, b []float64) bool {
	a0, a1, b0, b1 := At(a, 1), At(a, 0), At(b, 1), At(b, 0)
	if !IsDefined(a0) || !IsDefined(a1) || !IsDefined(b0) || !IsDefined(b1) {
		return false
	}
	return a0 >= b0 && a1 < b1
}
