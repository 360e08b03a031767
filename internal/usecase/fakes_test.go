package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/strategy"
	"go.uber.org/zap"
)

type marketCall struct {
	Symbol     string
	Side       domain.Side
	Qty        decimal.Decimal
	ReduceOnly bool
}

type fakeExchange struct {
	mu sync.Mutex

	universe    []string
	universeErr error
	top         []string
	topErr      error

	balances   []float64
	balanceErr error
	precision  domain.Precision
	marks      map[string]float64
	fills      map[string]float64
	amounts    map[string]float64
	openOrders map[string][]domain.OpenOrder

	marketErr    error
	closeErr     error
	closeResults []error
	stopResults  []error
	tpResults    []error
	nextID       int64

	// afterEntry runs once an entry order has filled, outside the lock.
	afterEntry func()

	calls     map[string]int
	market    []marketCall
	stops     []domain.ProtectiveOrder
	tps       []domain.ProtectiveOrder
	cancelled []string
	leverage  map[string]int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balances: []float64{1000},
		precision: domain.Precision{
			PriceDecimals: 2,
			QtyDecimals:   3,
			TickSize:      decimal.RequireFromString("0.01"),
			StepSize:      decimal.RequireFromString("0.001"),
			MinQty:        decimal.RequireFromString("0.001"),
			MinNotional:   decimal.RequireFromString("5"),
		},
		marks:      make(map[string]float64),
		fills:      make(map[string]float64),
		amounts:    make(map[string]float64),
		openOrders: make(map[string][]domain.OpenOrder),
		calls:      make(map[string]int),
		leverage:   make(map[string]int),
		nextID:     100,
	}
}

func (f *fakeExchange) hit(name string) {
	f.calls[name]++
}

func (f *fakeExchange) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeExchange) marketCalls() []marketCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]marketCall(nil), f.market...)
}

func (f *fakeExchange) cancelledSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *fakeExchange) Universe(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("universe")
	return append([]string(nil), f.universe...), f.universeErr
}

func (f *fakeExchange) TopByVolume(ctx context.Context, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("top")
	if f.topErr != nil {
		return nil, f.topErr
	}
	out := append([]string(nil), f.top...)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (f *fakeExchange) Klines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("klines")
	out := make([]domain.Candle, limit)
	for i := range out {
		out[i] = domain.Candle{OpenTime: int64(i) * 60_000, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	return out, nil
}

func (f *fakeExchange) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("mark")
	if p, ok := f.marks[symbol]; ok {
		return p, nil
	}
	return 100, nil
}

// Balance walks the configured sequence and then repeats its last value.
func (f *fakeExchange) Balance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("balance")
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	b := f.balances[0]
	if len(f.balances) > 1 {
		f.balances = f.balances[1:]
	}
	return b, nil
}

func (f *fakeExchange) Precision(ctx context.Context, symbol string) (domain.Precision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("precision")
	return f.precision, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("leverage")
	f.leverage[symbol] = leverage
	return nil
}

func (f *fakeExchange) MarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, reduceOnly bool) (*domain.Fill, error) {
	fill, err := f.marketOrder(ctx, symbol, side, qty, reduceOnly)
	if err == nil && !reduceOnly && f.afterEntry != nil {
		f.afterEntry()
	}
	return fill, err
}

// Order calls fail on a cancelled context like a real HTTP request would.
func (f *fakeExchange) marketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, reduceOnly bool) (*domain.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("market")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.market = append(f.market, marketCall{Symbol: symbol, Side: side, Qty: qty, ReduceOnly: reduceOnly})
	if reduceOnly {
		if err := pop(&f.closeResults); err != nil {
			return nil, err
		}
		if f.closeErr != nil {
			return nil, f.closeErr
		}
	}
	if !reduceOnly && f.marketErr != nil {
		return nil, f.marketErr
	}
	price, ok := f.fills[symbol]
	if !ok {
		price = 100
	}
	f.nextID++
	return &domain.Fill{OrderID: f.nextID, AvgPrice: price, Quantity: qty}, nil
}

func pop(results *[]error) error {
	if len(*results) == 0 {
		return nil
	}
	err := (*results)[0]
	*results = (*results)[1:]
	return err
}

func (f *fakeExchange) StopMarket(ctx context.Context, o domain.ProtectiveOrder) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("stop")
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.stops = append(f.stops, o)
	if err := pop(&f.stopResults); err != nil {
		return 0, err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeExchange) TakeProfitMarket(ctx context.Context, o domain.ProtectiveOrder) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("tp")
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.tps = append(f.tps, o)
	if err := pop(&f.tpResults); err != nil {
		return 0, err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeExchange) CancelAll(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("cancel")
	if err := ctx.Err(); err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, symbol)
	delete(f.openOrders, symbol)
	return nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("orders")
	return append([]domain.OpenOrder(nil), f.openOrders[symbol]...), nil
}

// PositionAmount reports 1 for symbols without an explicit amount.
func (f *fakeExchange) PositionAmount(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hit("amount")
	if amt, ok := f.amounts[symbol]; ok {
		return amt, nil
	}
	return 1, nil
}

func protected(symbol string) []domain.OpenOrder {
	return []domain.OpenOrder{
		{OrderID: 1, Symbol: symbol, Type: domain.OrderTypeStopMarket},
		{OrderID: 2, Symbol: symbol, Type: domain.OrderTypeTakeProfitMarket},
	}
}

type fakeNotifier struct {
	mu     sync.Mutex
	texts  []string
	photos []string
}

func (n *fakeNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *fakeNotifier) NotifyPhoto(caption string, png []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.photos = append(n.photos, caption)
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubStrategy emits a fixed signal for the symbols in signals.
type stubStrategy struct {
	name    string
	signals map[string]domain.Signal
	exit    bool
	timecut time.Duration
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Requirements() []strategy.Requirement {
	return []strategy.Requirement{{Timeframe: domain.TF1m, Bars: 5}}
}
func (s *stubStrategy) Params() strategy.Params {
	return strategy.Params{TPPct: 4, SLPct: 2, Timecut: s.timecut}
}
func (s *stubStrategy) Entry(symbol string, bars strategy.Bars, now time.Time) *domain.Signal {
	if _, ok := bars.Get(domain.TF1m, 5); !ok {
		return nil
	}
	sig, ok := s.signals[symbol]
	if !ok {
		return nil
	}
	sig.Strategy = s.name
	return &sig
}
func (s *stubStrategy) Exit(pos domain.Position, bars strategy.Bars, now time.Time) bool {
	return s.exit
}

func longSignal() domain.Signal {
	return domain.Signal{Side: domain.SideLong, Entry: 100, StopLoss: 98, TakeProfit: 104, SourceTF: "1m"}
}

type testEngine struct {
	*Engine
	ex       *fakeExchange
	notifier *fakeNotifier
	clock    *fakeClock
	strat    *stubStrategy
}

func testConfig() EngineConfig {
	return EngineConfig{
		Leverage:              5,
		MaxExposure:           0.1,
		AnalysisInterval:      10 * time.Millisecond,
		PositionCheckInterval: 10 * time.Millisecond,
		MaxTradeDuration:      300 * time.Second,
		EmergencyPeriod:       time.Hour,
		EmergencyDropPercent:  15,
		UniverseSize:          100,
		UniverseRefresh:       time.Hour,
		ExitGrace:             60 * time.Second,
	}
}

func newTestEngine(t *testing.T, capacity int, mutate ...func(*EngineConfig)) *testEngine {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	te := &testEngine{
		ex:       newFakeExchange(),
		notifier: &fakeNotifier{},
		clock:    &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		strat:    &stubStrategy{name: "stub", signals: map[string]domain.Signal{}},
	}
	eng, err := NewEngine(cfg, EngineDeps{
		Exchange:   te.ex,
		Strategies: []strategy.Strategy{te.strat},
		Positions:  NewPositionTable(capacity),
		TradeLog:   NewTradeLog(),
		Notifier:   te.notifier,
		Logger:     zap.NewNop(),
		Clock:      te.clock.Now,
	})
	require.NoError(t, err)
	te.Engine = eng
	return te
}

// hold inserts an OPEN position entered at the current fake time.
func (te *testEngine) hold(t *testing.T, symbol string, side domain.Side, entry float64) domain.Position {
	t.Helper()
	sign := side.Sign()
	pos := domain.Position{
		ID:          symbol + "-id",
		Symbol:      symbol,
		Side:        side,
		Quantity:    decimal.RequireFromString("2"),
		EntryPrice:  entry,
		EntryTime:   te.clock.Now(),
		Strategy:    te.strat.name,
		PrimaryTF:   "1m",
		StopOrderID: 1,
		TPOrderID:   2,
		StopPrice:   entry * (1 - sign*0.02),
		TakeProfit:  entry * (1 + sign*0.04),
		State:       domain.StateOpen,
	}
	require.True(t, te.positions.TryInsert(pos))
	te.ex.mu.Lock()
	te.ex.openOrders[symbol] = protected(symbol)
	te.ex.mu.Unlock()
	return pos
}
