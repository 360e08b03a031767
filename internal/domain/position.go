package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign is +1 for longs and -1 for shorts.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type PositionState int

const (
	StateTentative PositionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s PositionState) String() string {
	switch s {
	case StateTentative:
		return "TENTATIVE"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

func (s PositionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PositionState) UnmarshalText(b []byte) error {
	for st := StateTentative; st <= StateClosed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown position state %q", string(b))
}

// Position is an entry in the bot's position table.
type Position struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryPrice  float64         `json:"entry_price"`
	EntryTime   time.Time       `json:"entry_time"`
	Strategy    string          `json:"strategy"`
	PrimaryTF   string          `json:"primary_tf"`
	StopOrderID int64           `json:"stop_order_id,omitempty"`
	TPOrderID   int64           `json:"tp_order_id,omitempty"`
	StopPrice   float64         `json:"stop_price"`
	TakeProfit  float64         `json:"take_profit"`
	State       PositionState   `json:"state"`
}

// Age uses the monotonic reading carried by EntryTime when present.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// Fill is the executed part of a market order.
type Fill struct {
	OrderID  int64
	AvgPrice float64
	Quantity decimal.Decimal
}

// ProtectiveOrder describes a stop-market or take-profit-market order.
// Side is the closing direction: LONG buys, SHORT sells.
type ProtectiveOrder struct {
	Symbol        string
	Side          Side
	StopPrice     decimal.Decimal
	Quantity      decimal.Decimal
	ClosePosition bool
}

type OpenOrder struct {
	OrderID       int64     `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Type          OrderType `json:"type"`
	Side          Side      `json:"side"`
	StopPrice     float64   `json:"stop_price"`
	ClosePosition bool      `json:"close_position"`
	ReduceOnly    bool      `json:"reduce_only"`
}
