package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/perp_trader/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BinanceBaseURL = "https://fapi.binance.com"
	BinanceWSURL   = "wss://fstream.binance.com"

	maxKlines    = 1500
	readAttempts = 3
)

type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string
	// MinInterval is the minimum spacing between REST calls.
	MinInterval time.Duration
	// RetryDelay is multiplied by the attempt number between read retries.
	RetryDelay time.Duration
}

// BinanceAdapter implements domain.Exchange for USD-M futures.
type BinanceAdapter struct {
	client     *futures.Client
	limiter    *rate.Limiter
	retryDelay time.Duration
	log        *zap.Logger
	timeNow    func() time.Time

	mu        sync.Mutex
	precision map[string]domain.Precision
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   3 * time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func NewBinanceAdapter(opts Options, log *zap.Logger) *BinanceAdapter {
	client := futures.NewClient(opts.APIKey, opts.APISecret)
	if opts.BaseURL != "" {
		client.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	client.HTTPClient = newHTTPClient()

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &BinanceAdapter{
		client:     client,
		limiter:    rate.NewLimiter(limit, 1),
		retryDelay: retryDelay,
		log:        log.Named("binance"),
		timeNow:    time.Now,
		precision:  make(map[string]domain.Precision),
	}
}

// --- error handling ---

// classify maps venue failures onto the domain error classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		class := domain.ErrTransient
		switch apiErr.Code {
		case -1003, -1015:
			class = domain.ErrRateLimited
		case -2019, -2018:
			class = domain.ErrInsufficientMargin
		case -2014, -2015, -1022, -1002:
			class = domain.ErrAuth
		case -1013, -1111, -1102, -4164, -2010, -4003:
			class = domain.ErrValidation
		case -2011:
			class = domain.ErrNotFound
		}
		return fmt.Errorf("%w: code=%d %s", class, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransient, err)
}

func (b *BinanceAdapter) wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// call runs one rate-limited request without retrying.
func (b *BinanceAdapter) call(ctx context.Context, fn func() error) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	return classify(fn())
}

// read retries idempotent requests on transient and rate-limit failures
// with a linear backoff.
func (b *BinanceAdapter) read(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		err = b.call(ctx, fn)
		if err == nil || !domain.Retryable(err) {
			break
		}
		if attempt == readAttempts {
			break
		}
		b.log.Debug("retrying read", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * b.retryDelay):
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// --- market data ---

func (b *BinanceAdapter) exchangeInfo(ctx context.Context) ([]domain.Instrument, error) {
	var info *futures.ExchangeInfo
	err := b.read(ctx, "exchange info", func() (err error) {
		info, err = b.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	instruments := make([]domain.Instrument, 0, len(info.Symbols))
	cache := make(map[string]domain.Precision, len(info.Symbols))
	for _, s := range info.Symbols {
		instruments = append(instruments, domain.Instrument{
			Symbol:       s.Symbol,
			QuoteAsset:   s.QuoteAsset,
			ContractType: string(s.ContractType),
			Status:       s.Status,
		})
		cache[s.Symbol] = precisionFromFilters(s.Filters, int32(s.PricePrecision), int32(s.QuantityPrecision))
	}

	b.mu.Lock()
	for sym, p := range cache {
		b.precision[sym] = p
	}
	b.mu.Unlock()
	return instruments, nil
}

func precisionFromFilters(filters []map[string]interface{}, priceDecimals, qtyDecimals int32) domain.Precision {
	p := domain.Precision{PriceDecimals: priceDecimals, QtyDecimals: qtyDecimals}
	str := func(f map[string]interface{}, key string) string {
		s, _ := f[key].(string)
		return s
	}
	for _, f := range filters {
		switch str(f, "filterType") {
		case "PRICE_FILTER":
			if tick := str(f, "tickSize"); tick != "" {
				p.TickSize = parseDecimal(tick)
				p.PriceDecimals = decimalPlaces(tick)
			}
		case "LOT_SIZE":
			if step := str(f, "stepSize"); step != "" {
				p.StepSize = parseDecimal(step)
				p.QtyDecimals = decimalPlaces(step)
			}
			if minQty := str(f, "minQty"); minQty != "" {
				p.MinQty = parseDecimal(minQty)
			}
		case "MIN_NOTIONAL":
			if n := str(f, "notional"); n != "" {
				p.MinNotional = parseDecimal(n)
			}
		}
	}
	return p
}

// decimalPlaces counts significant fractional digits: "0.0100" -> 2.
func decimalPlaces(s string) int32 {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return int32(len(strings.TrimRight(s[i+1:], "0")))
}

// Universe lists trading USDT perpetuals, sorted ascending.
func (b *BinanceAdapter) Universe(ctx context.Context) ([]string, error) {
	instruments, err := b.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, in := range instruments {
		if in.Eligible() {
			out = append(out, in.Symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *BinanceAdapter) tickers(ctx context.Context) ([]domain.Ticker, error) {
	var stats []*futures.PriceChangeStats
	err := b.read(ctx, "24h tickers", func() (err error) {
		stats, err = b.client.NewListPriceChangeStatsService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(stats))
	for _, s := range stats {
		last, _ := strconv.ParseFloat(s.LastPrice, 64)
		vol, _ := strconv.ParseFloat(s.QuoteVolume, 64)
		out = append(out, domain.Ticker{Symbol: s.Symbol, LastPrice: last, QuoteVolume: vol})
	}
	return out, nil
}

// TopByVolume returns the n eligible symbols with the largest 24h quote
// volume. Ties are broken by symbol so equal inputs give equal output.
func (b *BinanceAdapter) TopByVolume(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: top by volume needs n > 0, got %d", domain.ErrValidation, n)
	}
	universe, err := b.Universe(ctx)
	if err != nil {
		return nil, err
	}
	tickers, err := b.tickers(ctx)
	if err != nil {
		return nil, err
	}
	return RankByVolume(universe, tickers, n), nil
}

// RankByVolume keeps tickers whose symbol is in universe and returns the
// top n by quote volume desc, symbol asc.
func RankByVolume(universe []string, tickers []domain.Ticker, n int) []string {
	eligible := make(map[string]bool, len(universe))
	for _, s := range universe {
		eligible[s] = true
	}
	ranked := make([]domain.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if eligible[t.Symbol] {
			ranked = append(ranked, t)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].QuoteVolume != ranked[j].QuoteVolume {
			return ranked[i].QuoteVolume > ranked[j].QuoteVolume
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, t := range ranked {
		out[i] = t.Symbol
	}
	return out
}

// Klines returns up to limit closed candles, oldest first. The bar still
// forming is dropped; when that leaves a full page one short, the missing
// older bar is fetched with a second request.
func (b *BinanceAdapter) Klines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxKlines {
		return nil, fmt.Errorf("%w: kline limit must be in 1..%d, got %d", domain.ErrValidation, maxKlines, limit)
	}
	// one extra bar makes up for the open one
	fetch := min(limit+1, maxKlines)

	raw, err := b.klinePage(ctx, symbol, tf, fetch, 0)
	if err != nil {
		return nil, err
	}
	nowMs := b.timeNow().UnixMilli()
	candles := closedCandles(raw, nowMs)

	if len(candles) < limit && len(raw) == maxKlines {
		older, err := b.klinePage(ctx, symbol, tf, limit-len(candles), raw[0].OpenTime-1)
		if err != nil {
			return nil, err
		}
		candles = append(closedCandles(older, nowMs), candles...)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// klinePage fetches one page of klines; endMs of 0 means up to now.
func (b *BinanceAdapter) klinePage(ctx context.Context, symbol string, tf domain.Timeframe, limit int, endMs int64) ([]*futures.Kline, error) {
	var raw []*futures.Kline
	err := b.read(ctx, "klines "+symbol, func() (err error) {
		svc := b.client.NewKlinesService().Symbol(symbol).Interval(string(tf)).Limit(limit)
		if endMs > 0 {
			svc = svc.EndTime(endMs)
		}
		raw, err = svc.Do(ctx)
		return err
	})
	return raw, err
}

func closedCandles(raw []*futures.Kline, nowMs int64) []domain.Candle {
	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if k.CloseTime >= nowMs {
			continue
		}
		candles = append(candles, domain.Candle{
			OpenTime: k.OpenTime,
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return candles
}

func (b *BinanceAdapter) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	var idx []*futures.PremiumIndex
	err := b.read(ctx, "mark price "+symbol, func() (err error) {
		idx, err = b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, p := range idx {
		if p.Symbol == symbol {
			if mark := parseFloat(p.MarkPrice); mark > 0 {
				return mark, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: mark price for %s", domain.ErrNotFound, symbol)
}

// Balance returns the USDT wallet balance.
func (b *BinanceAdapter) Balance(ctx context.Context) (float64, error) {
	var balances []*futures.Balance
	err := b.read(ctx, "balance", func() (err error) {
		balances, err = b.client.NewGetBalanceService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, bal := range balances {
		if bal.Asset == domain.QuoteAsset {
			return parseFloat(bal.Balance), nil
		}
	}
	return 0, fmt.Errorf("%w: %s balance", domain.ErrNotFound, domain.QuoteAsset)
}

// Precision serves from the cache; a miss refreshes exchange info once.
func (b *BinanceAdapter) Precision(ctx context.Context, symbol string) (domain.Precision, error) {
	b.mu.Lock()
	p, ok := b.precision[symbol]
	b.mu.Unlock()
	if ok {
		return p, nil
	}

	if _, err := b.exchangeInfo(ctx); err != nil {
		return domain.Precision{}, err
	}
	b.mu.Lock()
	p, ok = b.precision[symbol]
	b.mu.Unlock()
	if !ok {
		return domain.Precision{}, fmt.Errorf("%w: precision for %s", domain.ErrNotFound, symbol)
	}
	return p, nil
}

func (b *BinanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return b.read(ctx, "set leverage "+symbol, func() error {
		_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
}

// --- orders ---

func orderSide(s domain.Side) futures.SideType {
	if s == domain.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func sideOf(s futures.SideType) domain.Side {
	if s == futures.SideTypeSell {
		return domain.SideShort
	}
	return domain.SideLong
}

// MarketOrder places a market order and reports the fill. Never retried.
func (b *BinanceAdapter) MarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, reduceOnly bool) (*domain.Fill, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: market order quantity %s", domain.ErrValidation, qty)
	}
	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(uuid.NewString()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	var res *futures.CreateOrderResponse
	err := b.call(ctx, func() (err error) {
		res, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market order %s %s: %w", side, symbol, err)
	}

	fill := &domain.Fill{OrderID: res.OrderID, AvgPrice: parseFloat(res.AvgPrice)}
	if fill.Quantity, err = decimal.NewFromString(res.ExecutedQuantity); err != nil || fill.Quantity.IsZero() {
		fill.Quantity = qty
	}
	if fill.AvgPrice <= 0 {
		if mark, markErr := b.MarkPrice(ctx, symbol); markErr == nil {
			fill.AvgPrice = mark
		}
	}
	return fill, nil
}

func (b *BinanceAdapter) protective(ctx context.Context, typ futures.OrderType, o domain.ProtectiveOrder) (int64, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(o.Symbol).
		Side(orderSide(o.Side)).
		Type(typ).
		StopPrice(o.StopPrice.String()).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(uuid.NewString())
	if o.ClosePosition {
		svc = svc.ClosePosition(true)
	} else {
		svc = svc.Quantity(o.Quantity.String()).ReduceOnly(true)
	}

	var res *futures.CreateOrderResponse
	err := b.call(ctx, func() (err error) {
		res, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", typ, o.Symbol, err)
	}
	return res.OrderID, nil
}

func (b *BinanceAdapter) StopMarket(ctx context.Context, o domain.ProtectiveOrder) (int64, error) {
	return b.protective(ctx, futures.OrderTypeStopMarket, o)
}

func (b *BinanceAdapter) TakeProfitMarket(ctx context.Context, o domain.ProtectiveOrder) (int64, error) {
	return b.protective(ctx, futures.OrderTypeTakeProfitMarket, o)
}

// CancelAll is idempotent: "no open orders" counts as success.
func (b *BinanceAdapter) CancelAll(ctx context.Context, symbol string) error {
	err := b.read(ctx, "cancel all "+symbol, func() error {
		return b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (b *BinanceAdapter) OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	var orders []*futures.Order
	err := b.read(ctx, "open orders "+symbol, func() (err error) {
		orders, err = b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OpenOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, domain.OpenOrder{
			OrderID:       o.OrderID,
			Symbol:        o.Symbol,
			Type:          domain.OrderType(o.Type),
			Side:          sideOf(o.Side),
			StopPrice:     parseFloat(o.StopPrice),
			ClosePosition: o.ClosePosition,
			ReduceOnly:    o.ReduceOnly,
		})
	}
	return out, nil
}

// PositionAmount is the signed position size; 0 means flat.
func (b *BinanceAdapter) PositionAmount(ctx context.Context, symbol string) (float64, error) {
	var risks []*futures.PositionRisk
	err := b.read(ctx, "position risk "+symbol, func() (err error) {
		risks, err = b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	var amt float64
	for _, r := range risks {
		if r.Symbol == symbol {
			amt += parseFloat(r.PositionAmt)
		}
	}
	return amt, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
