package strategy

import (
	"github.com/vitos/perp_trader/internal/domain"
	ind "github.com/vitos/perp_trader/internal/indicators"
)

// ReversalDetector is the generic multi-indicator exit used when a strategy
// has no exit rule of its own.
type ReversalDetector struct {
	cfg ConfluenceConfig
	tf  domain.Timeframe
}

func NewReversalDetector(cfg ConfluenceConfig) *ReversalDetector {
	return &ReversalDetector{cfg: cfg, tf: domain.TF5m}
}

func (r *ReversalDetector) Requirements() []Requirement {
	return []Requirement{{Timeframe: r.tf, Bars: r.cfg.Bars}}
}

// Reversed is true when the opposing side wins the 5m vote or the close
// breaks the opposite Bollinger band.
func (r *ReversalDetector) Reversed(pos domain.Position, bars Bars) bool {
	candles, ok := bars.Get(r.tf, r.cfg.Bars)
	if !ok {
		return false
	}
	if v := vote(candles, r.cfg); v != nil && *v == pos.Side.Opposite() {
		return true
	}

	bands := ind.Bollinger(ind.Closes(candles), 20, 2)
	last := lastClose(candles)
	switch pos.Side {
	case domain.SideLong:
		lo := ind.Last(bands.Lower)
		return ind.IsDefined(lo) && last < lo
	case domain.SideShort:
		up := ind.Last(bands.Upper)
		return ind.IsDefined(up) && last > up
	}
	return false
}
