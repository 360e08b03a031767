package usecase

import (
	"sort"
	"sync"

	"github.com/vitos/perp_trader/internal/domain"
)

// PositionTable is the bot's view of held positions, keyed by symbol.
// Every operation takes the single mutex for its whole critical section and
// never calls out while holding it.
type PositionTable struct {
	capacity int

	mu        sync.Mutex
	positions map[string]domain.Position
}

func NewPositionTable(capacity int) *PositionTable {
	return &PositionTable{
		capacity:  capacity,
		positions: make(map[string]domain.Position),
	}
}

func (t *PositionTable) Capacity() int {
	return t.capacity
}

// TryInsert admits pos when the table has room and the symbol is not held.
// Check and insert happen under one lock acquisition.
func (t *PositionTable) TryInsert(pos domain.Position) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.positions) >= t.capacity {
		return false
	}
	if _, held := t.positions[pos.Symbol]; held {
		return false
	}
	t.positions[pos.Symbol] = pos
	return true
}

func (t *PositionTable) Remove(symbol string) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if ok {
		delete(t.positions, symbol)
	}
	return pos, ok
}

// Update applies fn to the stored position. It returns false when the
// symbol is not held.
func (t *PositionTable) Update(symbol string, fn func(*domain.Position)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return false
	}
	fn(&pos)
	t.positions[symbol] = pos
	return true
}

// Transition moves symbol from one state to another and reports whether the
// position was in the expected state.
func (t *PositionTable) Transition(symbol string, from, to domain.PositionState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok || pos.State != from {
		return false
	}
	pos.State = to
	t.positions[symbol] = pos
	return true
}

func (t *PositionTable) Get(symbol string) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	return pos, ok
}

func (t *PositionTable) Contains(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.positions[symbol]
	return ok
}

func (t *PositionTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

func (t *PositionTable) Full() bool {
	return t.Size() >= t.capacity
}

// Snapshot returns copies of all positions sorted by symbol.
func (t *PositionTable) Snapshot() []domain.Position {
	t.mu.Lock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
