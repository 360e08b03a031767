// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PositionsOpen tracks the size of the position table.
	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_trader_positions_open",
		Help: "Number of positions currently held",
	})

	// TradesClosed counts trade-log entries by exit type.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_trader_trades_closed_total",
		Help: "Closed trades by exit type",
	}, []string{"exit_type"})

	// Orders counts order placements by order type and result.
	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_trader_orders_total",
		Help: "Order placements by type and result",
	}, []string{"type", "result"})

	Signals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_trader_signals_total",
		Help: "Entry signals accepted by strategy",
	}, []string{"strategy"})

	// ScanDuration observes one full analysis pass over the universe.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perp_trader_scan_duration_seconds",
		Help:    "Duration of one analysis scan",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	UniverseSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_trader_universe_size",
		Help: "Symbols in the current candidate universe",
	})

	// Balance is the last sampled wallet balance in USDT.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_trader_balance_usdt",
		Help: "Last sampled USDT balance",
	})

	Drawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_trader_drawdown_percent",
		Help: "Drawdown from the peak balance in the emergency window",
	})

	Emergencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perp_trader_emergency_total",
		Help: "Emergency liquidations triggered",
	})

	// HTTPRequestsTotal counts ops server requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_trader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perp_trader_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// OrderResult maps an order error to the result label.
func OrderResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request metrics. The chi route pattern is used as the
// path label when available.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
