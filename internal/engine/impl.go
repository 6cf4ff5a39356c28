package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/indicators"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/market"
	"github.com/ahmedhalloub17/tradingbot/internal/monitor"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
	"github.com/ahmedhalloub17/tradingbot/pkg/cache"
)

// Updater feeds candles into the indicator engine.
type Updater interface {
	Update(c market.Candle) (indicators.Snapshot, error)
}

// Evaluator turns an indicator snapshot into a directional signal.
type Evaluator interface {
	Evaluate(snap indicators.Snapshot) signal.Signal
}

// Config wires the engine implementation.
type Config struct {
	Pairs     []string
	Timeframe string

	Indicators Updater
	Evaluator  Evaluator
	Risk       *risk.Manager
	Portfolio  *portfolio.State
	Lifecycle  *lifecycle.Manager
	Prices     *cache.PriceCache
	Bus        *events.Bus
	History    HistoryStore
	// Metrics is optional; when set the engine observes evaluation latency.
	Metrics *monitor.Metrics
	Log     *zap.Logger
}

// Impl implements Service by composing the pipeline modules. One runner
// goroutine per pair consumes candle closes; admissions are serialized by
// the risk and portfolio locks.
type Impl struct {
	ind     Updater
	eval    Evaluator
	risk    *risk.Manager
	port    *portfolio.State
	lc      *lifecycle.Manager
	cache   *cache.PriceCache
	bus     *events.Bus
	hist    HistoryStore
	metrics *monitor.Metrics
	log     *zap.Logger

	tf      time.Duration
	tfLabel string

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	pairList  []string
	runners   map[string]chan market.Candle
	runCtx    context.Context
	wg        sync.WaitGroup
}

// NewImpl validates the wiring and builds the engine.
func NewImpl(cfg Config) (*Impl, error) {
	if cfg.Indicators == nil || cfg.Evaluator == nil || cfg.Risk == nil ||
		cfg.Portfolio == nil || cfg.Lifecycle == nil || cfg.Bus == nil || cfg.Prices == nil {
		return nil, errors.New("engine requires indicators, evaluator, risk, portfolio, lifecycle, prices and bus")
	}
	pairs, err := normalizePairs(cfg.Pairs)
	if err != nil {
		return nil, err
	}
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("engine timeframe: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Impl{
		ind:      cfg.Indicators,
		eval:     cfg.Evaluator,
		risk:     cfg.Risk,
		port:     cfg.Portfolio,
		lc:       cfg.Lifecycle,
		cache:    cfg.Prices,
		bus:      cfg.Bus,
		hist:     cfg.History,
		metrics:  cfg.Metrics,
		log:      log.With(zap.String("component", "engine")),
		tf:       tf,
		tfLabel:  cfg.Timeframe,
		pairList: pairs,
		runners:  make(map[string]chan market.Candle),
	}, nil
}

// Run consumes candle closes and dispatches them to per-pair runners until
// the context is canceled. It must be running for the bot to trade.
func (e *Impl) Run(ctx context.Context) error {
	candles, unsubCandles := e.bus.Subscribe(events.EventCandleClose, 256)
	defer unsubCandles()
	circuits, unsubCircuits := e.bus.Subscribe(events.EventRiskCircuit, 8)
	defer unsubCircuits()

	e.mu.Lock()
	e.runCtx = ctx
	for _, pair := range e.pairList {
		e.spawnRunnerLocked(ctx, pair)
	}
	e.mu.Unlock()

	e.log.Info("engine loop started",
		zap.Strings("pairs", e.Pairs(ctx)),
		zap.String("timeframe", e.tfLabel))

	defer func() {
		e.mu.Lock()
		for pair, ch := range e.runners {
			close(ch)
			delete(e.runners, pair)
		}
		e.mu.Unlock()
		e.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-candles:
			if !ok {
				return nil
			}
			c, ok := ev.(market.Candle)
			if !ok {
				continue
			}
			e.mu.Lock()
			ch := e.runners[c.Pair]
			e.mu.Unlock()
			if ch == nil {
				continue
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		case ev := <-circuits:
			if reason, ok := ev.(string); ok {
				e.risk.Trip(reason, time.Now())
			}
		}
	}
}

func (e *Impl) spawnRunnerLocked(ctx context.Context, pair string) {
	ch := make(chan market.Candle, 16)
	e.runners[pair] = ch
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-ch:
				if !ok {
					return
				}
				e.processCandle(ctx, c)
			}
		}
	}()
}

// processCandle runs the full per-candle pipeline: protective monitoring,
// indicator update, signal evaluation, reversal handling and admission.
func (e *Impl) processCandle(ctx context.Context, c market.Candle) {
	at := c.Time().Add(e.tf)

	if err := e.lc.OnPrice(ctx, c.Pair, c.Close, at); err != nil {
		e.log.Warn("monitor close failed", zap.String("pair", c.Pair), zap.Error(err))
	}

	if e.metrics != nil {
		defer func(start time.Time) {
			e.metrics.EvalSeconds.Observe(time.Since(start).Seconds())
		}(time.Now())
	}

	snap, err := e.ind.Update(c)
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientData) {
			e.log.Debug("indicators warming up", zap.String("pair", c.Pair))
		} else {
			e.log.Warn("indicator update failed", zap.String("pair", c.Pair), zap.Error(err))
		}
		e.publishEquity()
		return
	}

	sig := e.eval.Evaluate(snap)
	e.bus.Publish(events.EventSignal, sig)

	if sig.Actionable() {
		e.handleSignal(ctx, sig, at)
	}
	e.publishEquity()
}

func (e *Impl) handleSignal(ctx context.Context, sig signal.Signal, at time.Time) {
	if open, ok := e.lc.GetByPair(sig.Pair); ok {
		if open.State == lifecycle.StateOpen && open.Direction == sig.Direction.Opposite() {
			if err := e.lc.CloseTrade(ctx, open.ID, lifecycle.ExitReversal, at); err != nil {
				e.log.Warn("reversal close failed",
					zap.String("trade_id", open.ID), zap.Error(err))
			}
		}
		return
	}

	if !e.runningNow() {
		return
	}

	pSnap := e.port.Snapshot()
	acct := risk.Account{
		Equity:     pSnap.Equity,
		Drawdown:   pSnap.Drawdown,
		OpenTrades: pSnap.OpenTrades,
		PairOpen:   e.port.HasOpenPair(sig.Pair),
	}
	dec, err := e.risk.Evaluate(sig, acct, at)
	if err != nil {
		e.log.Debug("signal refused",
			zap.String("pair", sig.Pair),
			zap.String("direction", string(sig.Direction)),
			zap.Error(err))
		return
	}
	if _, err := e.lc.OpenTrade(ctx, sig, dec, at); err != nil {
		e.log.Warn("entry failed", zap.String("pair", sig.Pair), zap.Error(err))
	}
}

func (e *Impl) publishEquity() {
	e.bus.Publish(events.EventEquitySnapshot, e.port.Snapshot())
}

// Start enables admissions. Idempotent.
func (e *Impl) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.running = true
	e.startedAt = time.Now()
	e.lc.Resume()
	e.log.Info("trading started")
	return nil
}

// Stop halts admissions. Live trades stay monitored.
func (e *Impl) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	e.lc.Halt()
	e.log.Info("trading stopped, monitors stay active")
	return nil
}

func (e *Impl) runningNow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns the operator view.
func (e *Impl) Status(ctx context.Context) Status {
	e.mu.Lock()
	running := e.running
	startedAt := e.startedAt
	pairs := append([]string(nil), e.pairList...)
	e.mu.Unlock()

	return Status{
		Running:      running,
		StartedAt:    startedAt,
		ServerTime:   time.Now().UTC(),
		Pairs:        pairs,
		Timeframe:    e.tfLabel,
		ActiveTrades: e.lc.ActiveCount(),
		Portfolio:    e.port.Snapshot(),
		Risk:         e.risk.Status(),
		EventsLost:   e.bus.Dropped(),
	}
}

// ActiveTrades lists live trades.
func (e *Impl) ActiveTrades(ctx context.Context) []lifecycle.Trade {
	return e.lc.ActiveTrades()
}

// TradeHistory pages through persisted closed trades.
func (e *Impl) TradeHistory(ctx context.Context, limit, offset int) ([]lifecycle.Trade, error) {
	if e.hist == nil {
		return nil, errors.New("trade history store not available")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.hist.ListTrades(ctx, limit, offset)
}

// CloseTrade manually closes a live trade.
func (e *Impl) CloseTrade(ctx context.Context, tradeID string) error {
	return e.lc.CloseTrade(ctx, tradeID, lifecycle.ExitManual, time.Now())
}

// Balance returns the portfolio snapshot plus mark-to-market PnL of open
// positions.
func (e *Impl) Balance(ctx context.Context) (BalanceInfo, error) {
	snap := e.port.Snapshot()
	info := BalanceInfo{
		Equity:     snap.Equity,
		Available:  snap.Available,
		Reserved:   snap.Reserved,
		Peak:       snap.Peak,
		Drawdown:   snap.Drawdown,
		OpenTrades: snap.OpenTrades,
	}
	for _, tr := range e.lc.ActiveTrades() {
		if tr.State != lifecycle.StateOpen {
			continue
		}
		mark, ok := e.cache.Get(tr.Pair)
		if !ok {
			continue
		}
		if tr.Direction == signal.DirectionShort {
			info.UnrealizedPnL += (tr.EntryPrice - mark) * tr.Size
		} else {
			info.UnrealizedPnL += (mark - tr.EntryPrice) * tr.Size
		}
	}
	return info, nil
}

// ResetRisk closes the circuit and rebases the equity peak.
func (e *Impl) ResetRisk(ctx context.Context) (portfolio.Snapshot, error) {
	e.risk.Reset()
	snap := e.port.RebasePeak()
	e.log.Info("risk reset", zap.Float64("peak", snap.Peak))
	return snap, nil
}

// RiskConfig returns the admission parameters currently in force.
func (e *Impl) RiskConfig(ctx context.Context) risk.Config {
	return e.risk.Config()
}

// SetRiskConfig swaps the admission parameters. Signals evaluated after the
// swap use the new limits; live trades keep their stops.
func (e *Impl) SetRiskConfig(ctx context.Context, cfg risk.Config) error {
	return e.risk.SetConfig(cfg)
}

// Pairs returns the configured pairs.
func (e *Impl) Pairs(ctx context.Context) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.pairList...)
}

// SetPairs replaces the traded pair set. Pairs with a live trade cannot be
// removed.
func (e *Impl) SetPairs(ctx context.Context, pairs []string) error {
	next, err := normalizePairs(pairs)
	if err != nil {
		return err
	}
	nextSet := make(map[string]bool, len(next))
	for _, p := range next {
		nextSet[p] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pair := range e.pairList {
		if !nextSet[pair] && e.port.HasOpenPair(pair) {
			return fmt.Errorf("pair %s has a live trade and cannot be removed", pair)
		}
	}

	current := make(map[string]bool, len(e.pairList))
	for _, p := range e.pairList {
		current[p] = true
	}
	for pair, ch := range e.runners {
		if !nextSet[pair] {
			close(ch)
			delete(e.runners, pair)
		}
	}
	if e.runCtx != nil {
		for _, pair := range next {
			if _, ok := e.runners[pair]; !ok {
				e.spawnRunnerLocked(e.runCtx, pair)
			}
		}
	}
	e.pairList = next
	e.log.Info("trading pairs updated", zap.Strings("pairs", next))
	return nil
}

func normalizePairs(pairs []string) ([]string, error) {
	if len(pairs) == 0 {
		return nil, errors.New("at least one trading pair is required")
	}
	seen := make(map[string]bool, len(pairs))
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			return nil, errors.New("empty trading pair")
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}
