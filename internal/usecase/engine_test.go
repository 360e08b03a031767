package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_trader/internal/domain"
)

func TestAnalyzeOnce_CapacityGate(t *testing.T) {
	te := newTestEngine(t, 2)
	te.hold(t, "AAAUSDT", domain.SideLong, 100)
	te.hold(t, "BBBUSDT", domain.SideLong, 100)
	te.universe.Store(&[]string{"CCCUSDT"})
	te.strat.signals["CCCUSDT"] = longSignal()

	opened := te.AnalyzeOnce(context.Background())

	assert.Equal(t, 0, opened)
	assert.Equal(t, 2, te.positions.Size())
	assert.Empty(t, te.ex.marketCalls())
	assert.Zero(t, te.ex.count("klines"), "full table must not query the exchange")
}

func TestAnalyzeOnce_OpensProtectedPosition(t *testing.T) {
	te := newTestEngine(t, 3)
	te.universe.Store(&[]string{"BTCUSDT", "ETHUSDT"})
	te.strat.signals["BTCUSDT"] = longSignal()
	te.ex.fills["BTCUSDT"] = 100.5

	opened := te.AnalyzeOnce(context.Background())
	require.Equal(t, 1, opened)

	pos, ok := te.positions.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StateOpen, pos.State)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.True(t, pos.Quantity.Equal(decimal.RequireFromString("5")), "1000*5*0.1/100, got %s", pos.Quantity)
	assert.Equal(t, 100.5, pos.EntryPrice)
	assert.InDelta(t, 98.5, pos.StopPrice, 1e-9)
	assert.InDelta(t, 104.5, pos.TakeProfit, 1e-9)
	assert.NotZero(t, pos.StopOrderID)
	assert.NotZero(t, pos.TPOrderID)

	calls := te.ex.marketCalls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].ReduceOnly)
	require.Len(t, te.ex.stops, 1)
	assert.True(t, te.ex.stops[0].ClosePosition)
	assert.Equal(t, domain.SideShort, te.ex.stops[0].Side)
	assert.Equal(t, 5, te.ex.leverage["BTCUSDT"])
	assert.Len(t, te.notifier.messages(), 1)
}

func TestAnalyzeOnce_StopsAtCapacity(t *testing.T) {
	te := newTestEngine(t, 1)
	te.universe.Store(&[]string{"AAAUSDT", "BBBUSDT"})
	te.strat.signals["AAAUSDT"] = longSignal()
	te.strat.signals["BBBUSDT"] = longSignal()

	assert.Equal(t, 1, te.AnalyzeOnce(context.Background()))
	assert.True(t, te.positions.Contains("AAAUSDT"))
	assert.False(t, te.positions.Contains("BBBUSDT"))
	assert.Len(t, te.ex.marketCalls(), 1)
}

func TestAnalyzeOnce_ProtectiveFallbackToReduceOnly(t *testing.T) {
	te := newTestEngine(t, 3)
	te.universe.Store(&[]string{"BTCUSDT"})
	te.strat.signals["BTCUSDT"] = longSignal()
	te.ex.stopResults = []error{fmt.Errorf("close position rejected: %w", domain.ErrValidation)}

	require.Equal(t, 1, te.AnalyzeOnce(context.Background()))
	require.Len(t, te.ex.stops, 2)
	assert.True(t, te.ex.stops[0].ClosePosition)
	assert.False(t, te.ex.stops[1].ClosePosition)
	assert.True(t, te.ex.stops[1].Quantity.Equal(decimal.RequireFromString("5")))
}

func TestAnalyzeOnce_ProtectiveFailureClosesAsManual(t *testing.T) {
	te := newTestEngine(t, 3)
	te.universe.Store(&[]string{"BTCUSDT"})
	te.strat.signals["BTCUSDT"] = longSignal()
	te.ex.stopResults = []error{fmt.Errorf("stop rejected: %w", domain.ErrTransient)}

	assert.Equal(t, 0, te.AnalyzeOnce(context.Background()))

	calls := te.ex.marketCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.SideLong, calls[0].Side)
	assert.Equal(t, domain.SideShort, calls[1].Side)
	assert.True(t, calls[1].ReduceOnly)
	assert.Zero(t, te.positions.Size())

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitManual, entries[0].ExitType)
}

func TestAnalyzeOnce_EntryRejectedReleasesSymbol(t *testing.T) {
	te := newTestEngine(t, 3)
	te.universe.Store(&[]string{"BTCUSDT"})
	te.strat.signals["BTCUSDT"] = longSignal()
	te.ex.marketErr = fmt.Errorf("bad qty: %w", domain.ErrValidation)

	assert.Equal(t, 0, te.AnalyzeOnce(context.Background()))
	assert.False(t, te.positions.Contains("BTCUSDT"))
	assert.Zero(t, te.ex.count("stop"))
	assert.Zero(t, te.tradeLog.Len())
}

func TestAnalyzeOnce_MarginErrorStopsScan(t *testing.T) {
	te := newTestEngine(t, 3)
	te.universe.Store(&[]string{"AAAUSDT", "BBBUSDT"})
	te.strat.signals["AAAUSDT"] = longSignal()
	te.strat.signals["BBBUSDT"] = longSignal()
	te.ex.marketErr = fmt.Errorf("margin: %w", domain.ErrInsufficientMargin)

	assert.Equal(t, 0, te.AnalyzeOnce(context.Background()))
	assert.Len(t, te.ex.marketCalls(), 1)
}

func TestMonitorOnce_Timecut(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.fills["BTCUSDT"] = 101

	te.clock.Advance(299 * time.Second)
	require.NoError(t, te.MonitorOnce(context.Background()))
	assert.True(t, te.positions.Contains("BTCUSDT"))

	te.clock.Advance(2 * time.Second)
	require.NoError(t, te.MonitorOnce(context.Background()))

	assert.False(t, te.positions.Contains("BTCUSDT"))
	calls := te.ex.marketCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.SideShort, calls[0].Side)
	assert.True(t, calls[0].ReduceOnly)

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitTimecut, entries[0].ExitType)
	assert.InDelta(t, 1.0, entries[0].PnLPct, 1e-9)
	assert.InDelta(t, 2.0, entries[0].PnLUSDT, 1e-9)
}

func TestMonitorOnce_StrategyTimecut(t *testing.T) {
	te := newTestEngine(t, 3)
	te.strat.timecut = 90 * time.Second
	te.hold(t, "BTCUSDT", domain.SideShort, 100)

	te.clock.Advance(91 * time.Second)
	require.NoError(t, te.MonitorOnce(context.Background()))

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitTimecut, entries[0].ExitType)
	assert.Equal(t, domain.SideLong, te.ex.marketCalls()[0].Side)
}

func TestMonitorOnce_ReversalAfterGrace(t *testing.T) {
	te := newTestEngine(t, 3)
	te.strat.exit = true
	te.hold(t, "BTCUSDT", domain.SideLong, 100)

	te.clock.Advance(30 * time.Second)
	require.NoError(t, te.MonitorOnce(context.Background()))
	assert.True(t, te.positions.Contains("BTCUSDT"), "exit rules wait for the grace period")

	te.clock.Advance(31 * time.Second)
	require.NoError(t, te.MonitorOnce(context.Background()))
	assert.False(t, te.positions.Contains("BTCUSDT"))

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitReversal, entries[0].ExitType)
}

func TestMonitorOnce_ObservedTakeProfit(t *testing.T) {
	te := newTestEngine(t, 3)
	pos := te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.amounts["BTCUSDT"] = 0
	te.ex.openOrders["BTCUSDT"] = []domain.OpenOrder{{OrderID: 1, Type: domain.OrderTypeStopMarket}}

	require.NoError(t, te.MonitorOnce(context.Background()))

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitTP, entries[0].ExitType)
	assert.Equal(t, pos.TakeProfit, entries[0].ExitPrice)
	assert.InDelta(t, 4.0, entries[0].PnLPct, 1e-9)
	assert.Empty(t, te.ex.marketCalls(), "no order needed for a position the exchange closed")
	assert.Contains(t, te.ex.cancelledSymbols(), "BTCUSDT")
}

func TestMonitorOnce_ObservedStopLoss(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideShort, 100)
	te.ex.amounts["BTCUSDT"] = 0
	te.ex.openOrders["BTCUSDT"] = []domain.OpenOrder{{OrderID: 2, Type: domain.OrderTypeTakeProfitMarket}}

	require.NoError(t, te.MonitorOnce(context.Background()))

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitSL, entries[0].ExitType)
	assert.InDelta(t, -2.0, entries[0].PnLPct, 1e-9)
}

func TestMonitorOnce_RepairsMissingStop(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.openOrders["BTCUSDT"] = []domain.OpenOrder{{OrderID: 2, Type: domain.OrderTypeTakeProfitMarket}}

	require.NoError(t, te.MonitorOnce(context.Background()))

	require.Len(t, te.ex.stops, 1)
	assert.Empty(t, te.ex.tps)
	assert.True(t, te.ex.stops[0].StopPrice.Equal(decimal.RequireFromString("98")))
	pos, ok := te.positions.Get("BTCUSDT")
	require.True(t, ok)
	assert.NotEqual(t, int64(1), pos.StopOrderID)
	assert.Equal(t, int64(2), pos.TPOrderID)
}

func TestMonitorOnce_RepairFailureClosesAsManual(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.openOrders["BTCUSDT"] = nil
	te.ex.stopResults = []error{fmt.Errorf("down: %w", domain.ErrTransient)}

	require.NoError(t, te.MonitorOnce(context.Background()))

	assert.False(t, te.positions.Contains("BTCUSDT"))
	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitManual, entries[0].ExitType)
}

func TestMonitorOnce_FailedCloseStaysOpen(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.closeErr = fmt.Errorf("timeout: %w", domain.ErrTransient)

	te.clock.Advance(301 * time.Second)
	require.NoError(t, te.MonitorOnce(context.Background()))

	pos, ok := te.positions.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StateOpen, pos.State)
	assert.Zero(t, te.tradeLog.Len())

	te.ex.closeErr = nil
	require.NoError(t, te.MonitorOnce(context.Background()))
	assert.False(t, te.positions.Contains("BTCUSDT"))
	assert.Equal(t, 1, te.tradeLog.Len())
}

func TestEmergencyDrawdown(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "AAAUSDT", domain.SideLong, 100)
	te.hold(t, "BBBUSDT", domain.SideShort, 100)
	ctx := context.Background()
	t0 := te.clock.Now()

	assert.False(t, te.RecordBalance(ctx, domain.BalanceSample{Time: t0, USDT: 100}))
	assert.False(t, te.RecordBalance(ctx, domain.BalanceSample{Time: t0.Add(10 * time.Second), USDT: 100}))
	assert.True(t, te.RecordBalance(ctx, domain.BalanceSample{Time: t0.Add(15 * time.Second), USDT: 80}))

	assert.Zero(t, te.positions.Size())
	assert.True(t, te.Halted())

	calls := te.ex.marketCalls()
	require.Len(t, calls, 2)
	sides := map[string]domain.Side{}
	for _, c := range calls {
		assert.True(t, c.ReduceOnly)
		sides[c.Symbol] = c.Side
	}
	assert.Equal(t, domain.SideShort, sides["AAAUSDT"])
	assert.Equal(t, domain.SideLong, sides["BBBUSDT"])

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.ExitEmergency, e.ExitType)
	}

	// fires once
	assert.True(t, te.RecordBalance(ctx, domain.BalanceSample{Time: t0.Add(20 * time.Second), USDT: 70}))
	assert.Len(t, te.ex.marketCalls(), 2)
	assert.ErrorIs(t, te.MonitorOnce(ctx), ErrEmergencyShutdown)

	// no admissions afterwards
	te.universe.Store(&[]string{"CCCUSDT"})
	te.strat.signals["CCCUSDT"] = longSignal()
	assert.Equal(t, 0, te.AnalyzeOnce(ctx))
	assert.Len(t, te.ex.marketCalls(), 2)
}

func TestEmergencyBelowThreshold(t *testing.T) {
	te := newTestEngine(t, 3)
	ctx := context.Background()
	t0 := te.clock.Now()
	assert.False(t, te.RecordBalance(ctx, domain.BalanceSample{Time: t0, USDT: 100}))
	assert.False(t, te.RecordBalance(ctx, domain.BalanceSample{Time: t0.Add(time.Second), USDT: 86}))
	assert.False(t, te.Halted())
}

func TestRun_ReturnsEmergencyShutdown(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.balances = []float64{100, 80}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := te.Run(ctx)
	assert.ErrorIs(t, err, ErrEmergencyShutdown)
	assert.Zero(t, te.positions.Size())
	assert.Equal(t, domain.ExitEmergency, te.tradeLog.Snapshot()[0].ExitType)
}

func TestRun_ShutdownCancelsProtectionAndLeavesPositions(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, te.Run(ctx))
	assert.True(t, te.positions.Contains("BTCUSDT"))
	assert.Contains(t, te.ex.cancelledSymbols(), "BTCUSDT")
	assert.Empty(t, te.ex.marketCalls())
}

func TestSendSummary(t *testing.T) {
	te := newTestEngine(t, 3)
	for _, pct := range []float64{2, -1, 3} {
		te.tradeLog.Append(domain.TradeLogEntry{Symbol: "BTCUSDT", PnLPct: pct, PnLUSDT: pct * 10, ExitType: domain.ExitTP})
	}

	te.SendSummary()

	msgs := te.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "66.7%")
	assert.Contains(t, msgs[0], "5.00")
	assert.Len(t, te.notifier.photos, 2)
}

func TestNewEngineRequiresDeps(t *testing.T) {
	_, err := NewEngine(testConfig(), EngineDeps{})
	assert.Error(t, err)
}

func TestAnalyzeOnce_EmergencyDuringEntryFlattensFill(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "AAAUSDT", domain.SideLong, 100)
	te.universe.Store(&[]string{"BTCUSDT"})
	te.strat.signals["BTCUSDT"] = longSignal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// the drawdown guard fires and the loops are cancelled while the entry
	// order is on the wire
	te.ex.afterEntry = func() {
		t0 := te.clock.Now()
		te.RecordBalance(ctx, domain.BalanceSample{Time: t0, USDT: 100})
		require.True(t, te.RecordBalance(ctx, domain.BalanceSample{Time: t0.Add(time.Second), USDT: 80}))
		cancel()
	}

	assert.Equal(t, 0, te.AnalyzeOnce(ctx))

	assert.Zero(t, te.positions.Size())
	require.Len(t, te.ex.stops, 1)
	require.Len(t, te.ex.tps, 1)

	closes := map[string]domain.Side{}
	for _, c := range te.ex.marketCalls() {
		if c.ReduceOnly {
			closes[c.Symbol] = c.Side
		}
	}
	assert.Equal(t, map[string]domain.Side{"AAAUSDT": domain.SideShort, "BTCUSDT": domain.SideShort}, closes)

	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.ExitEmergency, e.ExitType)
	}
}

func TestAnalyzeOnce_CancelDuringEntryKeepsProtection(t *testing.T) {
	te := newTestEngine(t, 3)
	te.universe.Store(&[]string{"BTCUSDT", "ETHUSDT"})
	te.strat.signals["BTCUSDT"] = longSignal()
	te.strat.signals["ETHUSDT"] = longSignal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	te.ex.afterEntry = cancel

	assert.Equal(t, 1, te.AnalyzeOnce(ctx))

	pos, ok := te.positions.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StateOpen, pos.State)
	assert.NotZero(t, pos.StopOrderID)
	assert.NotZero(t, pos.TPOrderID)
	assert.False(t, te.positions.Contains("ETHUSDT"))
	require.Len(t, te.ex.marketCalls(), 1)
}

func TestRun_SweepsPositionsLeftAfterEmergency(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.balances = []float64{100, 80}
	te.ex.closeResults = []error{fmt.Errorf("timeout: %w", domain.ErrTransient)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.ErrorIs(t, te.Run(ctx), ErrEmergencyShutdown)
	assert.Zero(t, te.positions.Size())

	closes := 0
	for _, c := range te.ex.marketCalls() {
		if c.ReduceOnly {
			closes++
		}
	}
	assert.Equal(t, 2, closes)
	entries := te.tradeLog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ExitEmergency, entries[0].ExitType)
}

func TestMonitorOnce_AuthFailureStops(t *testing.T) {
	te := newTestEngine(t, 3)
	te.ex.balanceErr = fmt.Errorf("-2015 invalid api key: %w", domain.ErrAuth)

	err := te.MonitorOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Contains(t, te.notifier.messages()[0], "credentials")
}

func TestRun_AuthFailureShutsDown(t *testing.T) {
	te := newTestEngine(t, 3)
	te.hold(t, "BTCUSDT", domain.SideLong, 100)
	te.ex.balanceErr = fmt.Errorf("-2015 invalid api key: %w", domain.ErrAuth)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := te.Run(ctx)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.NoError(t, ctx.Err(), "Run must return on its own")
	assert.True(t, te.positions.Contains("BTCUSDT"))
	assert.Contains(t, te.ex.cancelledSymbols(), "BTCUSDT")
	assert.Equal(t, 1, te.ex.count("balance"))
}
