package usecase

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vitos/perp_trader/internal/domain"
)

// TradeLog is the append-only in-memory record of closed trades.
type TradeLog struct {
	mu      sync.Mutex
	entries []domain.TradeLogEntry
	entropy *ulid.MonotonicEntropy
}

func NewTradeLog() *TradeLog {
	return &TradeLog{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Append stamps the entry with a ULID when it has none and stores it.
func (l *TradeLog) Append(entry domain.TradeLogEntry) domain.TradeLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ID == "" {
		entry.ID = ulid.MustNew(ulid.Timestamp(entry.Timestamp), l.entropy).String()
	}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *TradeLog) Snapshot() []domain.TradeLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TradeLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *TradeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// closedTrade builds the trade-log entry for pos exiting at exitPrice.
// PnL percent is the unleveraged price move in the position's direction.
func closedTrade(pos domain.Position, exitPrice float64, exit domain.ExitType, at time.Time) domain.TradeLogEntry {
	qty := pos.Quantity.InexactFloat64()
	var pct, usdt float64
	if pos.EntryPrice > 0 && exitPrice > 0 {
		move := (exitPrice - pos.EntryPrice) * pos.Side.Sign()
		pct = move / pos.EntryPrice * 100
		usdt = move * qty
	}
	return domain.TradeLogEntry{
		Timestamp:  at,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Strategy:   pos.Strategy,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   qty,
		PnLPct:     pct,
		PnLUSDT:    usdt,
		ExitType:   exit,
	}
}
