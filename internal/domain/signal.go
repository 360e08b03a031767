package domain

import "fmt"

// Signal is a strategy's entry proposal.
type Signal struct {
	Side       Side
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	SourceTF   string
	Strategy   string
}

// Validate checks that prices are positive and that stop-loss and
// take-profit sit on opposite sides of the entry, consistent with Side.
func (s Signal) Validate() error {
	if s.Entry <= 0 || s.StopLoss <= 0 || s.TakeProfit <= 0 {
		return fmt.Errorf("%w: non-positive signal price", ErrValidation)
	}
	switch s.Side {
	case SideLong:
		if !(s.StopLoss < s.Entry && s.Entry < s.TakeProfit) {
			return fmt.Errorf("%w: long signal needs sl < entry < tp", ErrValidation)
		}
	case SideShort:
		if !(s.TakeProfit < s.Entry && s.Entry < s.StopLoss) {
			return fmt.Errorf("%w: short signal needs tp < entry < sl", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrValidation, string(s.Side))
	}
	return nil
}
