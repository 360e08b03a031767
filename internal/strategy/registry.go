package strategy

import (
	"strings"
	"time"
)

const (
	NameConfluence  = "confluence"
	NameATRBreakout = "atr_breakout"
	NamePrevDay     = "prev_day_breakout"
	NameORB         = "orb"
	NameNR7         = "nr7"
	NameEMAPullback = "ema_pullback"
	NameMAPullback  = "ma_pullback"
)

// Settings groups the parameters of every known strategy.
type Settings struct {
	Confluence  ConfluenceConfig  `yaml:"confluence"`
	ATRBreakout ATRBreakoutConfig `yaml:"atr_breakout"`
	PrevDay     PrevDayConfig     `yaml:"prev_day_breakout"`
	ORB         ORBConfig         `yaml:"orb"`
	NR7         NR7Config         `yaml:"nr7"`
	EMAPullback PullbackConfig    `yaml:"ema_pullback"`
	MAPullback  PullbackConfig    `yaml:"ma_pullback"`
}

func DefaultSettings() Settings {
	return Settings{
		Confluence:  DefaultConfluenceConfig(),
		ATRBreakout: DefaultATRBreakoutConfig(),
		PrevDay:     DefaultPrevDayConfig(),
		ORB:         DefaultORBConfig(),
		NR7:         DefaultNR7Config(),
		EMAPullback: DefaultEMAPullbackConfig(),
		MAPullback:  DefaultMAPullbackConfig(),
	}
}

// Names lists the registered strategies in their default priority.
func Names() []string {
	return []string{NameConfluence, NameATRBreakout, NamePrevDay, NameORB, NameNR7, NameEMAPullback, NameMAPullback}
}

// Build returns the named strategies in the given order, which is the
// evaluation priority.
func Build(names []string, s Settings, loc *time.Location) ([]Strategy, error) {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]Strategy, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case NameConfluence:
			out = append(out, NewConfluence(s.Confluence))
		case NameATRBreakout:
			out = append(out, NewATRBreakout(s.ATRBreakout))
		case NamePrevDay:
			out = append(out, NewPrevDayBreakout(s.PrevDay))
		case NameORB:
			orb, err := NewORB(s.ORB, loc)
			if err != nil {
				return nil, err
			}
			out = append(out, orb)
		case NameNR7:
			nr7, err := NewNR7(s.NR7, loc)
			if err != nil {
				return nil, err
			}
			out = append(out, nr7)
		case NameEMAPullback:
			out = append(out, NewEMAPullback(s.EMAPullback))
		case NameMAPullback:
			out = append(out, NewMAPullback(s.MAPullback))
		default:
			return nil, unknownStrategy(raw)
		}
	}
	return out, nil
}

// ByName indexes strategies by name.
func ByName(strategies []Strategy) map[string]Strategy {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Name()] = s
	}
	return m
}
