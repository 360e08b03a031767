package strategy

import (
	"time"

	"github.com/vitos/perp_trader/internal/domain"
	ind "github.com/vitos/perp_trader/internal/indicators"
)

const exitEMALen = 20

// emaRecross is the exit shared by breakout strategies: the close falls
// back through EMA(20) against the position.
func emaRecross(pos domain.Position, candles []domain.Candle) bool {
	ema := ind.Last(ind.EMA(ind.Closes(candles), exitEMALen))
	if !ind.IsDefined(ema) {
		return false
	}
	last := lastClose(candles)
	if pos.Side == domain.SideLong {
		return last < ema
	}
	return last > ema
}

// breakoutSignal fires when the last close pierces hi or lo by buffer.
// The stop sits on the opposite edge; the target is rr times the risk.
func breakoutSignal(name string, tf domain.Timeframe, last, hi, lo, buffer, rr, maxStopPct float64) *domain.Signal {
	switch {
	case last > hi*(1+buffer):
		stop := capStop(domain.SideLong, last, lo, maxStopPct)
		return newSignal(name, tf, domain.SideLong, last, stop, riskRewardTarget(domain.SideLong, last, stop, rr))
	case last < lo*(1-buffer):
		stop := capStop(domain.SideShort, last, hi, maxStopPct)
		return newSignal(name, tf, domain.SideShort, last, stop, riskRewardTarget(domain.SideShort, last, stop, rr))
	}
	return nil
}

type ATRBreakoutConfig struct {
	Params     `yaml:",inline"`
	Timeframe  domain.Timeframe `yaml:"timeframe"`
	Bars       int              `yaml:"bars"`
	ATRPeriod  int              `yaml:"atr_period"`
	Multiplier float64          `yaml:"multiplier"`
	Buffer     float64          `yaml:"buffer"`
	RiskReward float64          `yaml:"risk_reward"`
	MaxStopPct float64          `yaml:"max_stop_pct"`
}

func DefaultATRBreakoutConfig() ATRBreakoutConfig {
	return ATRBreakoutConfig{
		Params:     Params{TPPct: 2, SLPct: 1, Timecut: 4 * time.Hour},
		Timeframe:  domain.TF15m,
		Bars:       60,
		ATRPeriod:  14,
		Multiplier: 1.5,
		Buffer:     0.001,
		RiskReward: 2,
		MaxStopPct: 3,
	}
}

// ATRBreakout uses the previous close plus/minus a multiple of ATR as range.
type ATRBreakout struct {
	cfg ATRBreakoutConfig
}

func NewATRBreakout(cfg ATRBreakoutConfig) *ATRBreakout {
	return &ATRBreakout{cfg: cfg}
}

func (s *ATRBreakout) Name() string   { return NameATRBreakout }
func (s *ATRBreakout) Params() Params { return s.cfg.Params }
func (s *ATRBreakout) Requirements() []Requirement {
	return []Requirement{{Timeframe: s.cfg.Timeframe, Bars: s.cfg.Bars}}
}

func (s *ATRBreakout) Entry(symbol string, bars Bars, now time.Time) *domain.Signal {
	c, ok := bars.Get(s.cfg.Timeframe, s.cfg.Bars)
	if !ok {
		return nil
	}
	atr := ind.At(ind.ATR(c, s.cfg.ATRPeriod), 1)
	if !ind.IsDefined(atr) || atr <= 0 {
		return nil
	}
	prev := c[len(c)-2].Close
	hi, lo := prev+s.cfg.Multiplier*atr, prev-s.cfg.Multiplier*atr
	return breakoutSignal(s.Name(), s.cfg.Timeframe, lastClose(c), hi, lo, s.cfg.Buffer, s.cfg.RiskReward, s.cfg.MaxStopPct)
}

func (s *ATRBreakout) Exit(pos domain.Position, bars Bars, now time.Time) bool {
	c, ok := bars.Get(s.cfg.Timeframe, s.cfg.Bars)
	return ok && emaRecross(pos, c)
}

type PrevDayConfig struct {
	Params     `yaml:",inline"`
	TriggerTF  domain.Timeframe `yaml:"trigger_tf"`
	Buffer     float64          `yaml:"buffer"`
	RiskReward float64          `yaml:"risk_reward"`
	MaxStopPct float64          `yaml:"max_stop_pct"`
}

func DefaultPrevDayConfig() PrevDayConfig {
	return PrevDayConfig{
		Params:     Params{TPPct: 3, SLPct: 1.5, Timecut: 12 * time.Hour},
		TriggerTF:  domain.TF15m,
		Buffer:     0.001,
		RiskReward: 2,
		MaxStopPct: 3,
	}
}

// PrevDayBreakout trades the first trigger-timeframe close beyond the
// previous day's high or low.
type PrevDayBreakout struct {
	cfg PrevDayConfig
}

func NewPrevDayBreakout(cfg PrevDayConfig) *PrevDayBreakout {
	return &PrevDayBreakout{cfg: cfg}
}

func (s *PrevDayBreakout) Name() string   { return NamePrevDay }
func (s *PrevDayBreakout) Params() Params { return s.cfg.Params }
func (s *PrevDayBreakout) Requirements() []Requirement {
	return []Requirement{
		{Timeframe: domain.TF1d, Bars: 2},
		{Timeframe: s.cfg.TriggerTF, Bars: exitEMALen + 1},
	}
}

func (s *PrevDayBreakout) Entry(symbol string, bars Bars, now time.Time) *domain.Signal {
	days, ok := bars.Get(domain.TF1d, 2)
	if !ok {
		return nil
	}
	c, ok := bars.Get(s.cfg.TriggerTF, exitEMALen+1)
	if !ok {
		return nil
	}
	y := days[len(days)-1]
	prev := c[len(c)-2].Close
	hi, lo := y.High, y.Low
	// only the first close through the edge counts
	if prev > hi*(1+s.cfg.Buffer) || prev < lo*(1-s.cfg.Buffer) {
		return nil
	}
	return breakoutSignal(s.Name(), s.cfg.TriggerTF, lastClose(c), hi, lo, s.cfg.Buffer, s.cfg.RiskReward, s.cfg.MaxStopPct)
}

// Exit fires when price falls back inside yesterday's range.
func (s *PrevDayBreakout) Exit(pos domain.Position, bars Bars, now time.Time) bool {
	days, ok := bars.Get(domain.TF1d, 2)
	if !ok {
		return false
	}
	c, ok := bars.Get(s.cfg.TriggerTF, 1)
	if !ok {
		return false
	}
	y := days[len(days)-1]
	last := lastClose(c)
	if pos.Side == domain.SideLong {
		return last < y.High
	}
	return last > y.Low
}

type ORBConfig struct {
	Params        `yaml:",inline"`
	Timeframe     domain.Timeframe `yaml:"timeframe"`
	Bars          int              `yaml:"bars"`
	Sessions      []string         `yaml:"sessions"`
	RangeMinutes  int              `yaml:"range_minutes"`
	WindowMinutes int              `yaml:"window_minutes"`
	Buffer        float64          `yaml:"buffer"`
	RiskReward    float64          `yaml:"risk_reward"`
	MaxStopPct    float64          `yaml:"max_stop_pct"`
	DailyCap      int              `yaml:"daily_cap"`
}

func DefaultORBConfig() ORBConfig {
	return ORBConfig{
		Params:        Params{TPPct: 2, SLPct: 1, Timecut: 3 * time.Hour},
		Timeframe:     domain.TF5m,
		Bars:          48,
		Sessions:      []string{"09:00", "16:00", "22:30"},
		RangeMinutes:  30,
		WindowMinutes: 90,
		Buffer:        0.0005,
		RiskReward:    2,
		MaxStopPct:    3,
		DailyCap:      1,
	}
}

// ORB trades breakouts of the opening range of each configured session.
type ORB struct {
	cfg      ORBConfig
	sessions []ClockTime
	loc      *time.Location
	cap      *dailyCap
}

func NewORB(cfg ORBConfig, loc *time.Location) (*ORB, error) {
	sessions, err := parseClockTimes(cfg.Sessions)
	if err != nil {
		return nil, err
	}
	return &ORB{cfg: cfg, sessions: sessions, loc: loc, cap: newDailyCap(cfg.DailyCap)}, nil
}

func (s *ORB) Name() string   { return NameORB }
func (s *ORB) Params() Params { return s.cfg.Params }
func (s *ORB) Requirements() []Requirement {
	return []Requirement{{Timeframe: s.cfg.Timeframe, Bars: s.cfg.Bars}}
}

// activeSession returns the session open whose trade window contains now.
func (s *ORB) activeSession(local time.Time) (time.Time, bool) {
	rangeDur := time.Duration(s.cfg.RangeMinutes) * time.Minute
	windowDur := time.Duration(s.cfg.WindowMinutes) * time.Minute
	for _, ct := range s.sessions {
		for _, day := range []time.Time{local, local.AddDate(0, 0, -1)} {
			open := ct.On(day)
			start := open.Add(rangeDur)
			if !local.Before(start) && local.Before(start.Add(windowDur)) {
				return open, true
			}
		}
	}
	return time.Time{}, false
}

func (s *ORB) Entry(symbol string, bars Bars, now time.Time) *domain.Signal {
	c, ok := bars.Get(s.cfg.Timeframe, s.cfg.Bars)
	if !ok {
		return nil
	}
	local := now.In(s.loc)
	open, ok := s.activeSession(local)
	if !ok {
		return nil
	}
	end := open.Add(time.Duration(s.cfg.RangeMinutes) * time.Minute)

	var hi, lo float64
	found := false
	for _, bar := range c {
		t := bar.Time()
		if t.Before(open) || !t.Before(end) {
			continue
		}
		if !found || bar.High > hi {
			hi = bar.High
		}
		if !found || bar.Low < lo {
			lo = bar.Low
		}
		found = true
	}
	if !found {
		return nil
	}

	sig := breakoutSignal(s.Name(), s.cfg.Timeframe, lastClose(c), hi, lo, s.cfg.Buffer, s.cfg.RiskReward, s.cfg.MaxStopPct)
	if sig == nil || !s.cap.take(symbol, local) {
		return nil
	}
	return sig
}

func (s *ORB) Exit(pos domain.Position, bars Bars, now time.Time) bool {
	c, ok := bars.Get(s.cfg.Timeframe, exitEMALen)
	return ok && emaRecross(pos, c)
}

type NR7Config struct {
	Params     `yaml:",inline"`
	Timeframe  domain.Timeframe `yaml:"timeframe"`
	Lookback   int              `yaml:"lookback"`
	Windows    []string         `yaml:"windows"`
	Buffer     float64          `yaml:"buffer"`
	RiskReward float64          `yaml:"risk_reward"`
	MaxStopPct float64          `yaml:"max_stop_pct"`
	DailyCap   int              `yaml:"daily_cap"`
}

func DefaultNR7Config() NR7Config {
	return NR7Config{
		Params:     Params{TPPct: 2, SLPct: 1, Timecut: 6 * time.Hour},
		Timeframe:  domain.TF1h,
		Lookback:   7,
		Windows:    []string{"08:00-12:00", "14:00-18:00"},
		Buffer:     0.0005,
		RiskReward: 2,
		MaxStopPct: 3,
		DailyCap:   1,
	}
}

// NR7 trades the breakout of the narrowest bar of the last seven.
type NR7 struct {
	cfg     NR7Config
	windows []Window
	loc     *time.Location
	cap     *dailyCap
}

func NewNR7(cfg NR7Config, loc *time.Location) (*NR7, error) {
	windows, err := parseWindows(cfg.Windows)
	if err != nil {
		return nil, err
	}
	return &NR7{cfg: cfg, windows: windows, loc: loc, cap: newDailyCap(cfg.DailyCap)}, nil
}

func (s *NR7) Name() string   { return NameNR7 }
func (s *NR7) Params() Params { return s.cfg.Params }
func (s *NR7) Requirements() []Requirement {
	bars := s.cfg.Lookback + 1
	if bars < exitEMALen {
		bars = exitEMALen
	}
	return []Requirement{{Timeframe: s.cfg.Timeframe, Bars: bars}}
}

func (s *NR7) inWindow(local time.Time) bool {
	if len(s.windows) == 0 {
		return true
	}
	for _, w := range s.windows {
		if w.Contains(local) {
			return true
		}
	}
	return false
}

func (s *NR7) Entry(symbol string, bars Bars, now time.Time) *domain.Signal {
	c, ok := bars.Get(s.cfg.Timeframe, s.Requirements()[0].Bars)
	if !ok {
		return nil
	}
	local := now.In(s.loc)
	if !s.inWindow(local) {
		return nil
	}

	n := len(c)
	ref := c[n-2]
	for i := n - 1 - s.cfg.Lookback; i < n-2; i++ {
		if c[i].Range() <= ref.Range() {
			return nil
		}
	}

	sig := breakoutSignal(s.Name(), s.cfg.Timeframe, lastClose(c), ref.High, ref.Low, s.cfg.Buffer, s.cfg.RiskReward, s.cfg.MaxStopPct)
	if sig == nil || !s.cap.take(symbol, local) {
		return nil
	}
	return sig
}

func (s *NR7) Exit(pos domain.Position, bars Bars, now time.Time) bool {
	c, ok := bars.Get(s.cfg.Timeframe, exitEMALen)
	return ok && emaRecross(pos, c)
}
