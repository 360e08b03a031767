package strategy

import (
	"time"

	"github.com/vitos/perp_trader/internal/domain"
	ind "github.com/vitos/perp_trader/internal/indicators"
)

type ConfluenceConfig struct {
	Params            `yaml:",inline"`
	SignalThreshold   int     `yaml:"signal_threshold"`
	AuxThreshold      int     `yaml:"aux_threshold"`
	Bars              int     `yaml:"bars"`
	RSILow            float64 `yaml:"rsi_low"`
	RSIHigh           float64 `yaml:"rsi_high"`
	StochLow          float64 `yaml:"stoch_low"`
	StochHigh         float64 `yaml:"stoch_high"`
	ADXMin            float64 `yaml:"adx_min"`
	MACDCrossLookback int     `yaml:"macd_cross_lookback"`
	OBVLookback       int     `yaml:"obv_lookback"`
	VolumeLookback    int     `yaml:"volume_lookback"`
	VolumeSpikeK      float64 `yaml:"volume_spike_k"`
}

func DefaultConfluenceConfig() ConfluenceConfig {
	return ConfluenceConfig{
		Params:            Params{TPPct: 1.5, SLPct: 0.8, Timecut: 60 * time.Minute},
		SignalThreshold:   3,
		AuxThreshold:      2,
		Bars:              60,
		RSILow:            30,
		RSIHigh:           70,
		StochLow:          20,
		StochHigh:         80,
		ADXMin:            20,
		MACDCrossLookback: 3,
		OBVLookback:       5,
		VolumeLookback:    20,
		VolumeSpikeK:      2,
	}
}

const (
	auxTF       = domain.TF30m
	auxBars     = 30
	auxFastEMA  = 9
	auxSlowEMA  = 21
	trendEMALen = 21
)

// Confluence votes five indicators on 1m and 5m, combines the two
// timeframes and requires auxiliary confirmations before entering.
type Confluence struct {
	cfg      ConfluenceConfig
	reversal *ReversalDetector
}

func NewConfluence(cfg ConfluenceConfig) *Confluence {
	return &Confluence{cfg: cfg, reversal: NewReversalDetector(cfg)}
}

func (s *Confluence) Name() string   { return NameConfluence }
func (s *Confluence) Params() Params { return s.cfg.Params }

func (s *Confluence) Requirements() []Requirement {
	return []Requirement{
		{Timeframe: domain.TF1m, Bars: s.cfg.Bars},
		{Timeframe: domain.TF5m, Bars: s.cfg.Bars},
		{Timeframe: auxTF, Bars: auxBars},
	}
}

func (s *Confluence) Entry(symbol string, bars Bars, now time.Time) *domain.Signal {
	c1, ok1 := bars.Get(domain.TF1m, s.cfg.Bars)
	c5, ok5 := bars.Get(domain.TF5m, s.cfg.Bars)
	c30, ok30 := bars.Get(auxTF, auxBars)
	if !ok1 || !ok5 || !ok30 {
		return nil
	}

	side, tf, ok := Combine(vote(c1, s.cfg), vote(c5, s.cfg))
	if !ok {
		return nil
	}

	primary := c1
	if tf == "5m" {
		primary = c5
	}
	if auxConfirmations(side, primary, c30, s.cfg) < s.cfg.AuxThreshold {
		return nil
	}

	entry := lastClose(primary)
	stop, target := fixedLevels(side, entry, s.cfg.Params)
	return newSignal(s.Name(), domain.Timeframe(tf), side, entry, stop, target)
}

func (s *Confluence) Exit(pos domain.Position, bars Bars, now time.Time) bool {
	return s.reversal.Reversed(pos, bars)
}

// Combine merges the 1m and 5m votes. A nil side is "no signal".
// The returned tf is "1m", "5m" or "both".
func Combine(sig1m, sig5m *domain.Side) (domain.Side, string, bool) {
	switch {
	case sig1m != nil && sig5m == nil:
		return *sig1m, "1m", true
	case sig1m == nil && sig5m != nil:
		return *sig5m, "5m", true
	case sig1m != nil && sig5m != nil && *sig1m == *sig5m:
		return *sig1m, "both", true
	}
	return "", "", false
}

// score counts long and short votes over RSI, MACD cross, EMA21,
// stochastic and ADX.
func score(candles []domain.Candle, cfg ConfluenceConfig) (long, short int) {
	closes := ind.Closes(candles)
	last := closes[len(closes)-1]

	rsi := ind.Last(ind.RSI(closes, 14))
	if ind.IsDefined(rsi) {
		if rsi <= cfg.RSILow {
			long++
		} else if rsi >= cfg.RSIHigh {
			short++
		}
	}

	macd := ind.MACD(closes, 12, 26, 9)
	switch recentCross(macd.MACD, macd.Signal, cfg.MACDCrossLookback) {
	case 1:
		long++
	case -1:
		short++
	}

	ema := ind.Last(ind.EMA(closes, trendEMALen))
	if ind.IsDefined(ema) {
		if last > ema {
			long++
		} else if last < ema {
			short++
		}
	}

	k := ind.Last(ind.Stochastic(candles, 14, 3).K)
	if ind.IsDefined(k) {
		if k <= cfg.StochLow {
			long++
		} else if k >= cfg.StochHigh {
			short++
		}
	}

	adx := ind.ADX(candles, 14)
	if a := ind.Last(adx.ADX); ind.IsDefined(a) && a > cfg.ADXMin {
		plus, minus := ind.Last(adx.PlusDI), ind.Last(adx.MinusDI)
		if plus > minus {
			long++
		} else if minus > plus {
			short++
		}
	}
	return long, short
}

func vote(candles []domain.Candle, cfg ConfluenceConfig) *domain.Side {
	long, short := score(candles, cfg)
	var side domain.Side
	switch {
	case long >= cfg.SignalThreshold && long > short:
		side = domain.SideLong
	case short >= cfg.SignalThreshold && short > long:
		side = domain.SideShort
	default:
		return nil
	}
	return &side
}

// recentCross returns +1 when a crossed above b within the last lookback
// bars and is still above, -1 for the mirror case, 0 otherwise.
func recentCross(a, b []float64, lookback int) int {
	n := len(a)
	if n < 2 || lookback <= 0 {
		return 0
	}
	for back := 0; back < lookback && n-back-2 >= 0; back++ {
		i := n - 1 - back
		if !ind.IsDefined(a[i]) || !ind.IsDefined(b[i]) || !ind.IsDefined(a[i-1]) || !ind.IsDefined(b[i-1]) {
			return 0
		}
		if a[i-1] <= b[i-1] && a[i] > b[i] && a[n-1] > b[n-1] {
			return 1
		}
		if a[i-1] >= b[i-1] && a[i] < b[i] && a[n-1] < b[n-1] {
			return -1
		}
	}
	return 0
}

// auxConfirmations counts auxiliary hints agreeing with side: 30m EMA
// cross state, OBV direction, volume spike direction, Bollinger breakout.
func auxConfirmations(side domain.Side, primary, c30 []domain.Candle, cfg ConfluenceConfig) int {
	count := 0
	agree := func(d int) {
		if (d > 0 && side == domain.SideLong) || (d < 0 && side == domain.SideShort) {
			count++
		}
	}

	closes30 := ind.Closes(c30)
	fast, slow := ind.Last(ind.EMA(closes30, auxFastEMA)), ind.Last(ind.EMA(closes30, auxSlowEMA))
	if ind.IsDefined(fast) && ind.IsDefined(slow) {
		agree(direction(fast - slow))
	}

	obv := ind.OBV(primary)
	agree(direction(ind.At(obv, 0) - ind.At(obv, cfg.OBVLookback)))

	if ind.VolumeSpike(primary, cfg.VolumeLookback, cfg.VolumeSpikeK) {
		lastBar := primary[len(primary)-1]
		agree(direction(lastBar.Close - lastBar.Open))
	}

	bands := ind.Bollinger(ind.Closes(primary), 20, 2)
	last := lastClose(primary)
	if up, lo := ind.Last(bands.Upper), ind.Last(bands.Lower); ind.IsDefined(up) {
		if last > up {
			agree(1)
		} else if last < lo {
			agree(-1)
		}
	}
	return count
}

func direction(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
