package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errResubscribe = errors.New("symbol set changed")

type tick struct {
	price float64
	at    time.Time
}

// TickerStream keeps a last-price cache fed by the combined ticker stream.
// It implements domain.PriceSource.
type TickerStream struct {
	wsURL          string
	staleAfter     time.Duration
	reconnectDelay time.Duration
	readTimeout    time.Duration
	dialer         *websocket.Dialer
	log            *zap.Logger
	timeNow        func() time.Time
	resub          chan struct{}

	mu        sync.Mutex
	symbols   []string
	prices    map[string]tick
	callbacks []func(symbol string, price float64)
}

func NewTickerStream(wsURL string, staleAfter time.Duration, log *zap.Logger) *TickerStream {
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	return &TickerStream{
		wsURL:          strings.TrimRight(wsURL, "/"),
		staleAfter:     staleAfter,
		reconnectDelay: 5 * time.Second,
		readTimeout:    time.Minute,
		dialer:         &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		log:            log.Named("ticker"),
		timeNow:        time.Now,
		resub:          make(chan struct{}, 1),
		prices:         make(map[string]tick),
	}
}

func (s *TickerStream) OnPriceUpdate(callback func(symbol string, price float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// SetSymbols replaces the subscribed set; the stream reconnects when it
// changes.
func (s *TickerStream) SetSymbols(symbols []string) {
	next := slices.Clone(symbols)
	sort.Strings(next)

	s.mu.Lock()
	same := slices.Equal(s.symbols, next)
	if !same {
		s.symbols = next
	}
	s.mu.Unlock()

	if same {
		return
	}
	select {
	case s.resub <- struct{}{}:
	default:
	}
}

// LastPrice returns the cached price unless it is older than the stale limit.
func (s *TickerStream) LastPrice(symbol string) (float64, bool) {
	s.mu.Lock()
	t, ok := s.prices[symbol]
	s.mu.Unlock()
	if !ok || s.timeNow().Sub(t.at) > s.staleAfter {
		return 0, false
	}
	return t.price, true
}

func streamURL(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@ticker"
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and reconnects until ctx ends.
func (s *TickerStream) Run(ctx context.Context) error {
	for {
		// the snapshot below already reflects any pending change
		select {
		case <-s.resub:
		default:
		}
		s.mu.Lock()
		symbols := slices.Clone(s.symbols)
		s.mu.Unlock()

		if len(symbols) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-s.resub:
				continue
			}
		}

		err := s.session(ctx, symbols)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errResubscribe) {
			continue
		}
		s.log.Warn("ticker stream disconnected", zap.Error(err), zap.Duration("retry_in", s.reconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		case <-s.resub:
		}
	}
}

func (s *TickerStream) session(ctx context.Context, symbols []string) error {
	conn, _, err := s.dialer.DialContext(ctx, streamURL(s.wsURL, symbols), nil)
	if err != nil {
		return err
	}
	s.log.Info("ticker stream connected", zap.Int("symbols", len(symbols)))

	done := make(chan struct{})
	var resubscribed atomic.Bool
	go func() {
		select {
		case <-ctx.Done():
		case <-s.resub:
			resubscribed.Store(true)
		case <-done:
			return
		}
		conn.Close()
	}()
	defer close(done)
	defer conn.Close()

	return s.readLoop(conn, &resubscribed)
}

func (s *TickerStream) readLoop(conn *websocket.Conn, resubscribed *atomic.Bool) error {
	for {
		_ = conn.SetReadDeadline(s.timeNow().Add(s.readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if resubscribed.Load() {
				return errResubscribe
			}
			return err
		}
		s.handle(message)
	}
}

type tickerFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol    string `json:"s"`
		LastPrice string `json:"c"`
	} `json:"data"`
}

func (s *TickerStream) handle(message []byte) {
	var frame tickerFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.log.Debug("ticker frame decode failed", zap.Error(err))
		return
	}
	price, err := strconv.ParseFloat(frame.Data.LastPrice, 64)
	if err != nil || price <= 0 || frame.Data.Symbol == "" {
		return
	}
	symbol := frame.Data.Symbol

	s.mu.Lock()
	s.prices[symbol] = tick{price: price, at: s.timeNow()}
	callbacks := make([]func(string, float64), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(symbol, price)
	}
}
