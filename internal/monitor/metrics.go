// Package monitor owns the prometheus collectors and the alert watcher. The
// watcher feeds both from the event bus so the trading components stay free
// of metrics plumbing.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's collectors on a private registry. A private
// registry keeps scrapes limited to bot metrics and lets tests run multiple
// instances without registration clashes.
type Metrics struct {
	registry *prometheus.Registry

	Signals      *prometheus.CounterVec
	TradesOpened *prometheus.CounterVec
	TradesClosed *prometheus.CounterVec
	OrderRetries prometheus.Counter
	StuckTrades  prometheus.Counter

	Equity     prometheus.Gauge
	Drawdown   prometheus.Gauge
	OpenTrades prometheus.Gauge
	// CircuitOpen is 1 while the risk circuit refuses admissions.
	CircuitOpen prometheus.Gauge

	// EvalSeconds tracks the candle evaluation latency (indicator update
	// through admission decision).
	EvalSeconds prometheus.Histogram
}

// NewMetrics builds and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingbot_signals_total",
			Help: "Signals produced by the aggregator, by pair and direction.",
		}, []string{"pair", "direction"}),
		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingbot_trades_opened_total",
			Help: "Trades opened, by pair and direction.",
		}, []string{"pair", "direction"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradingbot_trades_closed_total",
			Help: "Trades closed, by pair and exit reason.",
		}, []string{"pair", "reason"}),
		OrderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradingbot_order_retries_total",
			Help: "Transient order submission retries.",
		}),
		StuckTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradingbot_trades_stuck_total",
			Help: "Trades parked for operator intervention after close retries ran out.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradingbot_equity",
			Help: "Current realized equity.",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradingbot_drawdown",
			Help: "Current drawdown from the equity peak, as a fraction.",
		}),
		OpenTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradingbot_open_trades",
			Help: "Trades currently holding budget.",
		}),
		CircuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradingbot_risk_circuit_open",
			Help: "1 while the risk circuit refuses admissions, else 0.",
		}),
		EvalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradingbot_evaluation_seconds",
			Help:    "Candle evaluation latency from indicator update to admission decision.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.Signals, m.TradesOpened, m.TradesClosed, m.OrderRetries,
		m.StuckTrades, m.Equity, m.Drawdown, m.OpenTrades, m.CircuitOpen,
		m.EvalSeconds,
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
