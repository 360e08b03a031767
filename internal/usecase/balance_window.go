package usecase

import (
	"sync"
	"time"

	"github.com/vitos/perp_trader/internal/domain"
)

// BalanceWindow keeps balance samples no older than the configured period.
type BalanceWindow struct {
	period time.Duration

	mu      sync.Mutex
	samples []domain.BalanceSample
}

func NewBalanceWindow(period time.Duration) *BalanceWindow {
	return &BalanceWindow{period: period}
}

// Add appends a sample and evicts those older than the period relative to it.
func (w *BalanceWindow) Add(s domain.BalanceSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, s)
	cutoff := s.Time.Add(-w.period)
	keep := w.samples[:0]
	for _, old := range w.samples {
		if !old.Time.Before(cutoff) {
			keep = append(keep, old)
		}
	}
	w.samples = keep
}

// Drawdown returns the percent decline of the latest sample from the peak
// of the window. Zero when the window is empty or the peak is not positive.
func (w *BalanceWindow) Drawdown() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.samples) == 0 {
		return 0
	}
	peak := w.samples[0].USDT
	for _, s := range w.samples[1:] {
		if s.USDT > peak {
			peak = s.USDT
		}
	}
	if peak <= 0 {
		return 0
	}
	current := w.samples[len(w.samples)-1].USDT
	return (peak - current) / peak * 100
}

func (w *BalanceWindow) Samples() []domain.BalanceSample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.BalanceSample, len(w.samples))
	copy(out, w.samples)
	return out
}
