package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_trader/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Trades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := domain.TradeLogEntry{
		ID: "01HZ0000000000000000000001", Timestamp: base, Symbol: "BTCUSDT", Side: domain.SideLong,
		Strategy: "confluence", EntryPrice: 60000, ExitPrice: 61200, Quantity: 0.01,
		PnLPct: 2, PnLUSDT: 12, ExitType: domain.ExitTP,
	}
	second := first
	second.ID = "01HZ0000000000000000000002"
	second.Timestamp = base.Add(time.Hour)
	second.Side = domain.SideShort
	second.ExitType = domain.ExitTimecut

	require.NoError(t, store.RecordTrade(ctx, first))
	require.NoError(t, store.RecordTrade(ctx, second))
	assert.Error(t, store.RecordTrade(ctx, first), "duplicate id")

	trades, err := store.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, second.ID, trades[0].ID)
	assert.Equal(t, domain.ExitTimecut, trades[0].ExitType)
	assert.Equal(t, domain.SideShort, trades[0].Side)
	assert.True(t, first.Timestamp.Equal(trades[1].Timestamp))
	assert.Equal(t, 12.0, trades[1].PnLUSDT)

	limited, err := store.ListTrades(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_Balances(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, v := range []float64{100, 98, 101} {
		require.NoError(t, store.RecordBalance(ctx, domain.BalanceSample{Time: base.Add(time.Duration(i) * time.Minute), USDT: v}))
	}

	got, err := store.ListBalances(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 98.0, got[0].USDT)
	assert.Equal(t, 101.0, got[1].USDT)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordBalance(context.Background(), domain.BalanceSample{Time: time.Now(), USDT: 50}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.ListBalances(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type recordingSink struct {
	trades   int
	balances int
	err      error
}

func (s *recordingSink) RecordTrade(context.Context, domain.TradeLogEntry) error {
	s.trades++
	return s.err
}

func (s *recordingSink) RecordBalance(context.Context, domain.BalanceSample) error {
	s.balances++
	return s.err
}

func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordingSink{}, &recordingSink{err: boom}
	sink := MultiSink{a, b}

	err := sink.RecordTrade(context.Background(), domain.TradeLogEntry{})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, MultiSink{a}.RecordBalance(context.Background(), domain.BalanceSample{}))
	assert.Equal(t, 1, b.trades)
	assert.Equal(t, 1, a.trades)
	assert.Equal(t, 1, a.balances)
}

func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	m := NewRedisMirror(rdb, time.Minute)

	pos := domain.Position{Symbol: "ETHUSDT", Side: domain.SideLong, Quantity: decimal.RequireFromString("0.5"), State: domain.StateOpen}
	require.NoError(t, m.SyncPositions(ctx, []domain.Position{pos}))

	got, err := m.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.StateOpen, got[0].State)
	assert.True(t, pos.Quantity.Equal(got[0].Quantity))

	require.NoError(t, m.SyncPositions(ctx, nil))
	got, err = m.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	e := domain.TradeLogEntry{ID: "pg-test-" + time.Now().Format("150405.000000"), Timestamp: time.Now(), Symbol: "BTCUSDT",
		Side: domain.SideLong, Strategy: "orb", ExitType: domain.ExitSL}
	require.NoError(t, s.RecordTrade(ctx, e))
	require.NoError(t, s.RecordTrade(ctx, e), "replay is ignored")
	require.NoError(t, s.RecordBalance(ctx, domain.BalanceSample{Time: time.Now(), USDT: 10}))
}
