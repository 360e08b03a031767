package strategy

import (
	"time"

	"github.com/vitos/perp_trader/internal/domain"
	ind "github.com/vitos/perp_trader/internal/indicators"
)

type PullbackConfig struct {
	Params     `yaml:",inline"`
	Timeframe  domain.Timeframe `yaml:"timeframe"`
	Fast       int              `yaml:"fast"`
	Slow       int              `yaml:"slow"`
	Lookback   int              `yaml:"lookback"`
	Tolerance  float64          `yaml:"tolerance"`
	RiskReward float64          `yaml:"risk_reward"`
}

func DefaultEMAPullbackConfig() PullbackConfig {
	return PullbackConfig{
		Params:     Params{TPPct: 2, SLPct: 1, Timecut: 4 * time.Hour},
		Timeframe:  domain.TF15m,
		Fast:       20,
		Slow:       50,
		Lookback:   5,
		Tolerance:  0.002,
		RiskReward: 2,
	}
}

func DefaultMAPullbackConfig() PullbackConfig {
	return PullbackConfig{
		Params:    Params{TPPct: 3, SLPct: 1.5, Timecut: 8 * time.Hour},
		Timeframe: domain.TF1h,
		Fast:      20,
		Slow:      50,
		Lookback:  5,
		Tolerance: 0.003,
	}
}

// Pullback confirms the trend with EMA(fast) vs EMA(slow), waits for a
// retracement into the slow average and enters when the close reclaims the
// fast average. The "ma" flavour measures the retracement against simple
// moving averages and uses fixed percentage exits.
type Pullback struct {
	name string
	cfg  PullbackConfig
	sma  bool
}

func NewEMAPullback(cfg PullbackConfig) *Pullback {
	return &Pullback{name: NameEMAPullback, cfg: cfg}
}

func NewMAPullback(cfg PullbackConfig) *Pullback {
	return &Pullback{name: NameMAPullback, cfg: cfg, sma: true}
}

func (s *Pullback) Name() string   { return s.name }
func (s *Pullback) Params() Params { return s.cfg.Params }

func (s *Pullback) bars() int {
	return s.cfg.Slow + s.cfg.Lookback + 2
}

func (s *Pullback) Requirements() []Requirement {
	return []Requirement{{Timeframe: s.cfg.Timeframe, Bars: s.bars()}}
}

type pullbackLines struct {
	trendFast, trendSlow []float64
	touchFast, touchSlow []float64
}

func (s *Pullback) lines(c []domain.Candle) pullbackLines {
	closes := ind.Closes(c)
	l := pullbackLines{
		trendFast: ind.EMA(closes, s.cfg.Fast),
		trendSlow: ind.EMA(closes, s.cfg.Slow),
	}
	if s.sma {
		l.touchFast = ind.SMA(closes, s.cfg.Fast)
		l.touchSlow = ind.SMA(closes, s.cfg.Slow)
	} else {
		l.touchFast, l.touchSlow = l.trendFast, l.trendSlow
	}
	return l
}

func (s *Pullback) Entry(symbol string, bars Bars, now time.Time) *domain.Signal {
	c, ok := bars.Get(s.cfg.Timeframe, s.bars())
	if !ok {
		return nil
	}
	l := s.lines(c)
	fast, slow := ind.Last(l.trendFast), ind.Last(l.trendSlow)
	if !ind.IsDefined(fast) || !ind.IsDefined(slow) || fast == slow {
		return nil
	}
	side := domain.SideLong
	if fast < slow {
		side = domain.SideShort
	}

	n := len(c)
	tol := s.cfg.Tolerance
	touched := false
	extreme := c[n-1].Low
	if side == domain.SideShort {
		extreme = c[n-1].High
	}
	for i := n - 1 - s.cfg.Lookback; i < n-1; i++ {
		zone := l.touchSlow[i]
		if !ind.IsDefined(zone) {
			return nil
		}
		bar := c[i]
		if side == domain.SideLong {
			if bar.Low <= zone*(1+tol) && bar.Close >= zone*(1-tol) {
				touched = true
			}
			if bar.Low < extreme {
				extreme = bar.Low
			}
		} else {
			if bar.High >= zone*(1-tol) && bar.Close <= zone*(1+tol) {
				touched = true
			}
			if bar.High > extreme {
				extreme = bar.High
			}
		}
	}
	if !touched {
		return nil
	}

	prevClose, last := c[n-2].Close, c[n-1].Close
	prevFast, lastFast := l.touchFast[n-2], l.touchFast[n-1]
	reclaimed := false
	if side == domain.SideLong {
		reclaimed = prevClose <= prevFast && last > lastFast
	} else {
		reclaimed = prevClose >= prevFast && last < lastFast
	}
	if !reclaimed {
		return nil
	}

	if s.sma || s.cfg.RiskReward <= 0 {
		stop, target := fixedLevels(side, last, s.cfg.Params)
		return newSignal(s.name, s.cfg.Timeframe, side, last, stop, target)
	}
	stop := extreme * (1 - side.Sign()*tol)
	return newSignal(s.name, s.cfg.Timeframe, side, last, stop, riskRewardTarget(side, last, stop, s.cfg.RiskReward))
}

// Exit fires on a trend recross (ema flavour) or a close through the slow
// average against the position (ma flavour).
func (s *Pullback) Exit(pos domain.Position, bars Bars, now time.Time) bool {
	c, ok := bars.Get(s.cfg.Timeframe, s.bars())
	if !ok {
		return false
	}
	l := s.lines(c)
	if s.sma {
		slow := ind.Last(l.touchSlow)
		if !ind.IsDefined(slow) {
			return false
		}
		if pos.Side == domain.SideLong {
			return lastClose(c) < slow
		}
		return lastClose(c) > slow
	}
	if pos.Side == domain.SideLong {
		return ind.CrossUnder(l.trendFast, l.trendSlow) || ind.Last(l.trendFast) < ind.Last(l.trendSlow)
	}
	return ind.CrossOver(l.trendFast, l.trendSlow) || ind.Last(l.trendFast) > ind.Last(l.trendSlow)
}
