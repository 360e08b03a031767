package domain

import "time"

type ExitType string

const (
	ExitTP        ExitType = "TP"
	ExitSL        ExitType = "SL"
	ExitTimecut   ExitType = "TIMECUT"
	ExitReversal  ExitType = "REVERSAL"
	ExitEmergency ExitType = "EMERGENCY"
	ExitManual    ExitType = "MANUAL"
)

var ExitTypes = []ExitType{ExitTP, ExitSL, ExitTimecut, ExitReversal, ExitEmergency, ExitManual}

// TradeLogEntry records one closed position. Entries are never mutated.
type TradeLogEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Strategy   string    `json:"strategy"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PnLPct     float64   `json:"pnl_pct"`
	PnLUSDT    float64   `json:"pnl_usdt"`
	ExitType   ExitType  `json:"exit_type"`
}

type BalanceSample struct {
	Time time.Time `json:"time"`
	USDT float64   `json:"usdt"`
}
