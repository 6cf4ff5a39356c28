package monitor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

// CircuitProbe reports the risk circuit state. The drawdown trip happens
// inside the risk manager without a bus event, so the watcher samples the
// probe on every equity snapshot instead.
type CircuitProbe interface {
	CircuitOpen() bool
}

// Watcher drives the collectors and the alert sink from bus events.
type Watcher struct {
	metrics *Metrics
	circuit CircuitProbe
	sink    AlertSink
	log     *zap.Logger

	signals  <-chan any
	opened   <-chan any
	closed   <-chan any
	stuck    <-chan any
	retries  <-chan any
	circuits <-chan any
	equity   <-chan any
	unsubs   []func()
}

// NewWatcher wires the watcher and subscribes it to the bus; events published
// before Run starts sit in the subscription buffers. circuit and sink may be
// nil; alerts then go to the log only.
func NewWatcher(bus *events.Bus, metrics *Metrics, circuit CircuitProbe, sink AlertSink, log *zap.Logger) (*Watcher, error) {
	if bus == nil {
		return nil, errors.New("monitor: bus is required")
	}
	if metrics == nil {
		return nil, errors.New("monitor: metrics are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &Watcher{
		metrics: metrics,
		circuit: circuit,
		sink:    sink,
		log:     log.With(zap.String("component", "monitor")),
	}
	subscribe := func(e events.Event, buffer int) <-chan any {
		ch, unsub := bus.Subscribe(e, buffer)
		w.unsubs = append(w.unsubs, unsub)
		return ch
	}
	w.signals = subscribe(events.EventSignal, 64)
	w.opened = subscribe(events.EventTradeOpened, 16)
	w.closed = subscribe(events.EventTradeClosed, 16)
	w.stuck = subscribe(events.EventTradeStuck, 8)
	w.retries = subscribe(events.EventOrderRetry, 16)
	w.circuits = subscribe(events.EventRiskCircuit, 8)
	w.equity = subscribe(events.EventEquitySnapshot, 64)
	return w, nil
}

// Run consumes events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		for _, unsub := range w.unsubs {
			unsub()
		}
	}()

	for {
		select {
		case payload := <-w.signals:
			if sig, ok := payload.(signal.Signal); ok {
				w.metrics.Signals.WithLabelValues(sig.Pair, string(sig.Direction)).Inc()
			}
		case payload := <-w.opened:
			if tr, ok := payload.(lifecycle.Trade); ok {
				w.metrics.TradesOpened.WithLabelValues(tr.Pair, string(tr.Direction)).Inc()
			}
		case payload := <-w.closed:
			if tr, ok := payload.(lifecycle.Trade); ok {
				w.metrics.TradesClosed.WithLabelValues(tr.Pair, string(tr.ExitReason)).Inc()
			}
		case payload := <-w.stuck:
			if tr, ok := payload.(lifecycle.Trade); ok {
				w.metrics.StuckTrades.Inc()
				w.alert(fmt.Sprintf("trade %s on %s stuck after %d close attempts",
					tr.ID, tr.Pair, tr.Attempts))
			}
		case <-w.retries:
			w.metrics.OrderRetries.Inc()
		case payload := <-w.circuits:
			w.metrics.CircuitOpen.Set(1)
			reason, _ := payload.(string)
			w.alert("risk circuit open: " + reason)
		case payload := <-w.equity:
			if snap, ok := payload.(portfolio.Snapshot); ok {
				w.metrics.Equity.Set(snap.Equity)
				w.metrics.Drawdown.Set(snap.Drawdown)
				w.metrics.OpenTrades.Set(float64(snap.OpenTrades))
			}
			if w.circuit != nil {
				if w.circuit.CircuitOpen() {
					w.metrics.CircuitOpen.Set(1)
				} else {
					w.metrics.CircuitOpen.Set(0)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) alert(message string) {
	w.log.Warn("alert", zap.String("message", message))
	if w.sink == nil {
		return
	}
	if err := w.sink.Send(message); err != nil {
		w.log.Error("alert delivery failed", zap.Error(err))
	}
}
