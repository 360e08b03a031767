// Package strategy holds the entry/exit strategies evaluated by the engine.
package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/vitos/perp_trader/internal/domain"
)

// Requirement is the number of closed bars a strategy needs on a timeframe.
type Requirement struct {
	Timeframe domain.Timeframe
	Bars      int
}

// Bars holds closed candles per timeframe, oldest first.
type Bars map[domain.Timeframe][]domain.Candle

// Get returns the series for tf when it has at least need bars.
func (b Bars) Get(tf domain.Timeframe, need int) ([]domain.Candle, bool) {
	c := b[tf]
	if len(c) < need {
		return nil, false
	}
	return c, true
}

// Params are the exit parameters every strategy exposes.
type Params struct {
	TPPct   float64       `yaml:"tp_pct"`
	SLPct   float64       `yaml:"sl_pct"`
	Timecut time.Duration `yaml:"timecut"`
}

type Strategy interface {
	Name() string
	Requirements() []Requirement
	Params() Params
	Entry(symbol string, bars Bars, now time.Time) *domain.Signal
	Exit(pos domain.Position, bars Bars, now time.Time) bool
}

// MergeRequirements keeps the largest bar count per timeframe.
func MergeRequirements(groups ...[]Requirement) []Requirement {
	best := make(map[domain.Timeframe]int)
	var order []domain.Timeframe
	for _, g := range groups {
		for _, r := range g {
			if _, seen := best[r.Timeframe]; !seen {
				order = append(order, r.Timeframe)
			}
			if r.Bars > best[r.Timeframe] {
				best[r.Timeframe] = r.Bars
			}
		}
	}
	out := make([]Requirement, 0, len(order))
	for _, tf := range order {
		out = append(out, Requirement{Timeframe: tf, Bars: best[tf]})
	}
	return out
}

func fixedLevels(side domain.Side, entry float64, p Params) (stop, target float64) {
	s := side.Sign()
	return entry * (1 - s*p.SLPct/100), entry * (1 + s*p.TPPct/100)
}

func riskRewardTarget(side domain.Side, entry, stop, rr float64) float64 {
	return entry + side.Sign()*rr*math.Abs(entry-stop)
}

// capStop keeps the stop within maxPct of entry when maxPct is positive.
func capStop(side domain.Side, entry, stop, maxPct float64) float64 {
	if maxPct <= 0 {
		return stop
	}
	limit := entry * (1 - side.Sign()*maxPct/100)
	if side == domain.SideLong && stop < limit {
		return limit
	}
	if side == domain.SideShort && stop > limit {
		return limit
	}
	return stop
}

func newSignal(name string, tf domain.Timeframe, side domain.Side, entry, stop, target float64) *domain.Signal {
	sig := domain.Signal{
		Side:       side,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: target,
		SourceTF:   string(tf),
		Strategy:   name,
	}
	if sig.Validate() != nil {
		return nil
	}
	return &sig
}

func lastClose(c []domain.Candle) float64 {
	return c[len(c)-1].Close
}

func unknownStrategy(name string) error {
	return fmt.Errorf("unknown strategy %q", name)
}
