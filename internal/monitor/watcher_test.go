package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

type captureSink struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureSink) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func (c *captureSink) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type probeStub struct {
	mu   sync.Mutex
	open bool
}

func (p *probeStub) CircuitOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *probeStub) set(open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = open
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func waitForMetric(t *testing.T, m *Metrics, line string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(scrape(t, m), line) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("metric line %q never appeared; last scrape:\n%s", line, scrape(t, m))
}

func TestWatcherUpdatesCollectors(t *testing.T) {
	bus := events.NewBus()
	metrics := NewMetrics()
	sink := &captureSink{}
	w, err := NewWatcher(bus, metrics, nil, sink, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	bus.Publish(events.EventSignal, signal.Signal{Pair: "BTCUSDT", Direction: signal.DirectionLong})
	bus.Publish(events.EventTradeOpened, lifecycle.Trade{ID: "t-1", Pair: "BTCUSDT", Direction: signal.DirectionLong})
	bus.Publish(events.EventTradeClosed, lifecycle.Trade{ID: "t-1", Pair: "BTCUSDT", ExitReason: lifecycle.ExitTakeProfit})
	bus.Publish(events.EventOrderRetry, lifecycle.RetryNotice{TradeID: "t-2", Attempt: 1})
	bus.Publish(events.EventTradeStuck, lifecycle.Trade{ID: "t-2", Pair: "ETHUSDT", Attempts: 3})
	bus.Publish(events.EventEquitySnapshot, portfolio.Snapshot{Equity: 10500, Drawdown: 0.02, OpenTrades: 1})

	waitForMetric(t, metrics, `tradingbot_signals_total{direction="long",pair="BTCUSDT"} 1`)
	waitForMetric(t, metrics, `tradingbot_trades_opened_total{direction="long",pair="BTCUSDT"} 1`)
	waitForMetric(t, metrics, `tradingbot_trades_closed_total{pair="BTCUSDT",reason="take_profit"} 1`)
	waitForMetric(t, metrics, `tradingbot_order_retries_total 1`)
	waitForMetric(t, metrics, `tradingbot_trades_stuck_total 1`)
	waitForMetric(t, metrics, `tradingbot_equity 10500`)
	waitForMetric(t, metrics, `tradingbot_open_trades 1`)

	alerts := sink.all()
	if len(alerts) != 1 || !strings.Contains(alerts[0], "t-2") {
		t.Errorf("expected one stuck alert naming the trade, got %v", alerts)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run returned %v, want context.Canceled", err)
	}
}

func TestWatcherCircuitGauge(t *testing.T) {
	bus := events.NewBus()
	metrics := NewMetrics()
	sink := &captureSink{}
	probe := &probeStub{}
	w, err := NewWatcher(bus, metrics, probe, sink, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Forced trip raises the gauge and alerts immediately.
	probe.set(true)
	bus.Publish(events.EventRiskCircuit, "double settlement on trade x")
	waitForMetric(t, metrics, "tradingbot_risk_circuit_open 1")

	if alerts := sink.all(); len(alerts) != 1 || !strings.Contains(alerts[0], "double settlement") {
		t.Errorf("expected circuit alert, got %v", alerts)
	}

	// After an operator reset the next equity snapshot clears the gauge.
	probe.set(false)
	bus.Publish(events.EventEquitySnapshot, portfolio.Snapshot{Equity: 10000})
	waitForMetric(t, metrics, "tradingbot_risk_circuit_open 0")
}

func TestNewWatcherValidation(t *testing.T) {
	if _, err := NewWatcher(nil, NewMetrics(), nil, nil, nil); err == nil {
		t.Error("nil bus should be rejected")
	}
	if _, err := NewWatcher(events.NewBus(), nil, nil, nil, nil); err == nil {
		t.Error("nil metrics should be rejected")
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	metrics := NewMetrics()
	metrics.Signals.WithLabelValues("BTCUSDT", "short").Inc()
	body := scrape(t, metrics)

	for _, want := range []string{
		"tradingbot_signals_total",
		"tradingbot_equity",
		"tradingbot_evaluation_seconds",
		`tradingbot_signals_total{direction="short",pair="BTCUSDT"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
