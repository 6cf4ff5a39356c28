// Package lifecycle drives each trade through its state machine: admission
// to entry, monitoring, close and settlement. Every order intent is
// journaled before submission so a crash cannot double-submit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/exchange"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

// TradeStore persists trade records. Implementations must treat repeated
// upserts of the same trade id as updates.
type TradeStore interface {
	UpsertTrade(ctx context.Context, t Trade) error
}

// Manager owns all live trades. State transitions happen under one mutex;
// order submissions run outside it.
type Manager struct {
	cfg     Config
	client  exchange.Client
	port    *portfolio.State
	tracker *risk.StopTracker
	journal *Journal
	store   TradeStore
	bus     *events.Bus
	log     *zap.Logger

	mu     sync.Mutex
	active map[string]*Trade
	byPair map[string]string
	halted bool
}

// NewManager wires the lifecycle manager. store and bus may be nil.
func NewManager(cfg Config, client exchange.Client, port *portfolio.State,
	tracker *risk.StopTracker, journal *Journal, store TradeStore,
	bus *events.Bus, log *zap.Logger) (*Manager, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle config: %w", err)
	}
	if client == nil || port == nil || tracker == nil || journal == nil {
		return nil, errors.New("lifecycle requires client, portfolio, tracker and journal")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		client:  client,
		port:    port,
		tracker: tracker,
		journal: journal,
		store:   store,
		bus:     bus,
		log:     log.With(zap.String("component", "lifecycle")),
		active:  make(map[string]*Trade),
		byPair:  make(map[string]string),
	}, nil
}

// OpenTrade reserves budget, journals the intent and submits the entry
// order. On success the trade is Open; terminal entry failure releases the
// budget and leaves no live trade behind.
func (m *Manager) OpenTrade(ctx context.Context, sig signal.Signal, dec risk.Decision, at time.Time) (Trade, error) {
	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		return Trade{}, ErrHalted
	}
	if id, busy := m.byPair[sig.Pair]; busy {
		m.mu.Unlock()
		return Trade{}, fmt.Errorf("%s already has live trade %s", sig.Pair, id)
	}

	tr := &Trade{
		ID:          uuid.NewString(),
		Pair:        sig.Pair,
		Direction:   sig.Direction,
		State:       StatePendingEntry,
		Size:        dec.Size,
		Notional:    dec.Notional,
		SignalPrice: sig.Price,
		StopPrice:   dec.StopPrice,
		Target:      dec.TargetPrice,
		Confidence:  sig.Confidence,
		CreatedAt:   at,
	}
	if err := m.port.Reserve(tr.ID, tr.Pair, tr.Notional); err != nil {
		m.mu.Unlock()
		return Trade{}, fmt.Errorf("reserve budget: %w", err)
	}
	m.active[tr.ID] = tr
	m.byPair[tr.Pair] = tr.ID
	snap := *tr
	m.mu.Unlock()

	if err := m.journal.Append(actionEntrySubmit, snap, "", at); err != nil {
		// Nothing was submitted; release and drop the trade.
		m.dropTrade(tr.ID, tr.Pair)
		return Trade{}, fmt.Errorf("journal entry intent: %w", err)
	}
	return m.executeEntry(ctx, tr, at)
}

func (m *Manager) executeEntry(ctx context.Context, tr *Trade, at time.Time) (Trade, error) {
	req := exchange.OrderRequest{
		Pair:     tr.Pair,
		Side:     entrySide(tr.Direction),
		Type:     exchange.OrderTypeMarket,
		Qty:      tr.Size,
		Price:    tr.SignalPrice,
		ClientID: tr.ID + "-entry",
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxEntryAttempts; attempt++ {
		m.setAttempts(tr, attempt)

		res, err := m.submit(ctx, req)
		if err == nil {
			return m.markOpen(ctx, tr, res, at)
		}
		lastErr = err

		if !retryable(err) {
			break
		}
		if attempt < m.cfg.MaxEntryAttempts {
			m.notifyRetry(tr, "entry", attempt, err)
			if err := m.backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
	}
	return Trade{}, m.failEntry(ctx, tr, at, lastErr)
}

func (m *Manager) markOpen(ctx context.Context, tr *Trade, res exchange.OrderResult, at time.Time) (Trade, error) {
	m.mu.Lock()
	tr.State = StateOpen
	tr.EntryPrice = res.AvgPrice
	tr.EntryFee = res.Fee
	tr.OpenedAt = at
	if m.cfg.MaxHold > 0 {
		tr.Deadline = at.Add(m.cfg.MaxHold)
	}
	snap := *tr
	m.mu.Unlock()

	m.tracker.Track(snap.ID, snap.Pair, snap.Direction, snap.EntryPrice, snap.StopPrice, snap.Target)
	if err := m.journal.Append(actionOpened, snap, "", at); err != nil {
		m.log.Error("journal open failed", zap.String("trade_id", snap.ID), zap.Error(err))
	}
	m.persist(ctx, snap)
	m.publish(events.EventTradeOpened, snap)
	m.log.Info("trade opened",
		zap.String("trade_id", snap.ID),
		zap.String("pair", snap.Pair),
		zap.String("direction", string(snap.Direction)),
		zap.Float64("entry", snap.EntryPrice),
		zap.Float64("size", snap.Size),
		zap.Float64("stop", snap.StopPrice),
		zap.Float64("target", snap.Target))
	return snap, nil
}

func (m *Manager) failEntry(ctx context.Context, tr *Trade, at time.Time, cause error) error {
	m.dropTrade(tr.ID, tr.Pair)
	snap := *tr
	if err := m.journal.Append(actionEntryFailed, snap, "", at); err != nil {
		m.log.Error("journal entry failure failed", zap.String("trade_id", snap.ID), zap.Error(err))
	}
	m.log.Warn("entry abandoned",
		zap.String("trade_id", snap.ID),
		zap.String("pair", snap.Pair),
		zap.Error(cause))
	return fmt.Errorf("entry for %s failed: %w", snap.Pair, cause)
}

func (m *Manager) dropTrade(id, pair string) {
	m.mu.Lock()
	delete(m.active, id)
	delete(m.byPair, pair)
	m.mu.Unlock()
	if err := m.port.Release(id); err != nil {
		m.log.Error("release budget failed", zap.String("trade_id", id), zap.Error(err))
	}
}

// OnPrice feeds a mark price to the open trade on the pair, if any. It
// ratchets the trailing stop and initiates a close when the stop, target or
// max-hold deadline fires.
func (m *Manager) OnPrice(ctx context.Context, pair string, price float64, at time.Time) error {
	m.mu.Lock()
	id, ok := m.byPair[pair]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	tr := m.active[id]
	if tr == nil || tr.State != StateOpen {
		m.mu.Unlock()
		return nil
	}
	deadline := tr.Deadline
	m.mu.Unlock()

	trigger, stop := m.tracker.Observe(id, price)
	if stop > 0 {
		m.mu.Lock()
		if cur, ok := m.active[id]; ok {
			cur.StopPrice = stop
		}
		m.mu.Unlock()
	}

	var reason ExitReason
	switch trigger {
	case risk.TriggerStop:
		reason = ExitStopLoss
	case risk.TriggerTarget:
		reason = ExitTakeProfit
	default:
		if deadline.IsZero() || at.Before(deadline) {
			return nil
		}
		reason = ExitMaxHold
	}
	return m.CloseTrade(ctx, id, reason, at)
}

// CloseTrade moves an Open (or Stuck, for operator retries) trade into
// Closing and submits the close order. Exhausted retries mark the trade
// Stuck and return ErrStuck.
func (m *Manager) CloseTrade(ctx context.Context, tradeID string, reason ExitReason, at time.Time) error {
	m.mu.Lock()
	tr, ok := m.active[tradeID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("trade %s: %w", tradeID, ErrTradeNotFound)
	}
	switch tr.State {
	case StateOpen:
		tr.ExitReason = reason
	case StateStuck:
		// Operator retry keeps the original exit reason.
		if tr.ExitReason == "" {
			tr.ExitReason = reason
		}
	case StateClosing:
		m.mu.Unlock()
		return fmt.Errorf("trade %s is already closing", tradeID)
	default:
		m.mu.Unlock()
		return fmt.Errorf("trade %s in state %s cannot be closed", tradeID, tr.State)
	}
	tr.State = StateClosing
	tr.Attempts = 0
	snap := *tr
	m.mu.Unlock()

	if err := m.journal.Append(actionCloseSubmit, snap, string(snap.ExitReason), at); err != nil {
		m.log.Error("journal close intent failed", zap.String("trade_id", snap.ID), zap.Error(err))
	}
	return m.executeClose(ctx, tr, at)
}

func (m *Manager) executeClose(ctx context.Context, tr *Trade, at time.Time) error {
	req := exchange.OrderRequest{
		Pair:       tr.Pair,
		Side:       exitSide(tr.Direction),
		Type:       exchange.OrderTypeMarket,
		Qty:        tr.Size,
		ReduceOnly: true,
		ClientID:   tr.ID + "-exit",
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxCloseAttempts; attempt++ {
		m.setAttempts(tr, attempt)

		res, err := m.submit(ctx, req)
		if err == nil {
			return m.finalize(ctx, tr, res, at)
		}
		lastErr = err

		if !retryable(err) {
			break
		}
		if attempt < m.cfg.MaxCloseAttempts {
			m.notifyRetry(tr, "close", attempt, err)
			if err := m.backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
	}
	return m.markStuck(ctx, tr, at, lastErr)
}

func (m *Manager) finalize(ctx context.Context, tr *Trade, res exchange.OrderResult, at time.Time) error {
	m.mu.Lock()
	tr.State = StateClosed
	tr.ExitPrice = res.AvgPrice
	tr.ExitFee = res.Fee
	tr.ClosedAt = at

	gross := (tr.ExitPrice - tr.EntryPrice) * tr.Size
	if tr.Direction == signal.DirectionShort {
		gross = (tr.EntryPrice - tr.ExitPrice) * tr.Size
	}
	tr.PnL = gross - tr.EntryFee - tr.ExitFee

	delete(m.active, tr.ID)
	delete(m.byPair, tr.Pair)
	snap := *tr
	m.mu.Unlock()

	m.tracker.Untrack(snap.ID)

	if _, err := m.port.Settle(snap.ID, snap.PnL, at); err != nil {
		if errors.Is(err, portfolio.ErrDoubleSettlement) {
			// Fatal for admissions: accounting can no longer be trusted.
			m.log.Error("double settlement detected",
				zap.String("trade_id", snap.ID), zap.Error(err))
			m.publish(events.EventRiskCircuit,
				fmt.Sprintf("double settlement on trade %s", snap.ID))
		} else {
			m.log.Error("settlement failed",
				zap.String("trade_id", snap.ID), zap.Error(err))
		}
	}

	if err := m.journal.Append(actionClosed, snap, string(snap.ExitReason), at); err != nil {
		m.log.Error("journal close failed", zap.String("trade_id", snap.ID), zap.Error(err))
	}
	m.persist(ctx, snap)
	m.publish(events.EventTradeClosed, snap)
	m.log.Info("trade closed",
		zap.String("trade_id", snap.ID),
		zap.String("pair", snap.Pair),
		zap.String("reason", string(snap.ExitReason)),
		zap.Float64("exit", snap.ExitPrice),
		zap.Float64("pnl", snap.PnL))
	return nil
}

func (m *Manager) markStuck(ctx context.Context, tr *Trade, at time.Time, cause error) error {
	m.mu.Lock()
	tr.State = StateStuck
	snap := *tr
	m.mu.Unlock()

	if err := m.journal.Append(actionStuck, snap, string(snap.ExitReason), at); err != nil {
		m.log.Error("journal stuck failed", zap.String("trade_id", snap.ID), zap.Error(err))
	}
	m.persist(ctx, snap)
	m.publish(events.EventTradeStuck, snap)
	m.log.Error("trade stuck, operator retry required",
		zap.String("trade_id", snap.ID),
		zap.String("pair", snap.Pair),
		zap.Int("attempts", snap.Attempts),
		zap.Error(cause))
	return fmt.Errorf("close of %s failed after %d attempts (%v): %w",
		snap.ID, snap.Attempts, cause, ErrStuck)
}

// CloseAll initiates a close for every open trade. Stuck and closing trades
// are left alone.
func (m *Manager) CloseAll(ctx context.Context, reason ExitReason, at time.Time) error {
	m.mu.Lock()
	var ids []string
	for id, tr := range m.active {
		if tr.State == StateOpen {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := m.CloseTrade(ctx, id, reason, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recover replays the journal after a restart: open trades are restored,
// in-flight submissions are resumed under their original idempotency keys,
// and the journal is compacted. It returns the number of restored trades.
func (m *Manager) Recover(ctx context.Context, at time.Time) (int, error) {
	live, err := m.journal.Replay()
	if err != nil {
		return 0, fmt.Errorf("replay journal: %w", err)
	}

	restored := 0
	for _, rec := range live {
		tr := rec.Trade
		if err := m.port.Reserve(tr.ID, tr.Pair, tr.Notional); err != nil {
			m.log.Error("cannot re-reserve recovered trade, abandoning",
				zap.String("trade_id", tr.ID), zap.Error(err))
			if jerr := m.journal.Append(actionEntryFailed, tr, "", at); jerr != nil {
				m.log.Error("journal abandon failed", zap.String("trade_id", tr.ID), zap.Error(jerr))
			}
			continue
		}

		cur := tr
		m.mu.Lock()
		m.active[cur.ID] = &cur
		m.byPair[cur.Pair] = cur.ID
		m.mu.Unlock()

		switch rec.Phase {
		case PhaseEntryInFlight:
			// Resubmit under the same client id: an idempotent venue returns
			// the original fill if the lost submission went through.
			cur.State = StatePendingEntry
			if _, err := m.executeEntry(ctx, &cur, at); err != nil {
				m.log.Warn("recovered entry abandoned", zap.String("trade_id", cur.ID), zap.Error(err))
				continue
			}
		case PhaseOpen:
			cur.State = StateOpen
			m.tracker.Track(cur.ID, cur.Pair, cur.Direction, cur.EntryPrice, cur.StopPrice, cur.Target)
		case PhaseClosing:
			cur.State = StateClosing
			if cur.ExitReason == "" {
				cur.ExitReason = rec.ExitReason
			}
			if err := m.executeClose(ctx, &cur, at); err != nil {
				m.log.Warn("recovered close still failing", zap.String("trade_id", cur.ID), zap.Error(err))
			}
		}
		restored++
	}

	if err := m.compactJournal(at); err != nil {
		m.log.Warn("journal compaction failed", zap.Error(err))
	}
	m.log.Info("journal recovery complete", zap.Int("restored", restored))
	return restored, nil
}

func (m *Manager) compactJournal(at time.Time) error {
	m.mu.Lock()
	var live []RecoveredTrade
	for _, tr := range m.active {
		rec := RecoveredTrade{Trade: *tr, ExitReason: tr.ExitReason}
		switch tr.State {
		case StatePendingEntry:
			rec.Phase = PhaseEntryInFlight
		case StateOpen:
			rec.Phase = PhaseOpen
		case StateClosing, StateStuck:
			rec.Phase = PhaseClosing
		}
		live = append(live, rec)
	}
	m.mu.Unlock()
	sort.Slice(live, func(i, j int) bool { return live[i].Trade.ID < live[j].Trade.ID })
	return m.journal.Compact(live, at)
}

// Halt stops new entries. Monitoring and closing of live trades continues.
func (m *Manager) Halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
}

// Resume re-enables entries.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
}

// Halted reports whether new entries are refused.
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// Get returns a live trade by id.
func (m *Manager) Get(tradeID string) (Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.active[tradeID]
	if !ok {
		return Trade{}, false
	}
	return *tr, true
}

// GetByPair returns the live trade on a pair, if any.
func (m *Manager) GetByPair(pair string) (Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPair[pair]
	if !ok {
		return Trade{}, false
	}
	tr, ok := m.active[id]
	if !ok {
		return Trade{}, false
	}
	return *tr, true
}

// ActiveTrades returns copies of all live trades in a stable order.
func (m *Manager) ActiveTrades() []Trade {
	m.mu.Lock()
	out := make([]Trade, 0, len(m.active))
	for _, tr := range m.active {
		out = append(out, *tr)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount returns the number of live trades.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) setAttempts(tr *Trade, attempts int) {
	m.mu.Lock()
	tr.Attempts = attempts
	m.mu.Unlock()
}

func (m *Manager) submit(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if m.cfg.EntryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.EntryTimeout)
		defer cancel()
	}
	return m.client.PlaceOrder(ctx, req)
}

func (m *Manager) backoff(ctx context.Context, attempt int) error {
	if m.cfg.RetryBackoff <= 0 {
		return nil
	}
	delay := m.cfg.RetryBackoff << uint(attempt-1)
	if m.cfg.MaxBackoff > 0 && delay > m.cfg.MaxBackoff {
		delay = m.cfg.MaxBackoff
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) notifyRetry(tr *Trade, phase string, attempt int, cause error) {
	m.publish(events.EventOrderRetry, RetryNotice{
		TradeID: tr.ID,
		Pair:    tr.Pair,
		Phase:   phase,
		Attempt: attempt,
		Reason:  cause.Error(),
	})
	m.log.Warn("order retry",
		zap.String("trade_id", tr.ID),
		zap.String("phase", phase),
		zap.Int("attempt", attempt),
		zap.Error(cause))
}

func (m *Manager) persist(ctx context.Context, tr Trade) {
	if m.store == nil {
		return
	}
	if err := m.store.UpsertTrade(ctx, tr); err != nil {
		m.log.Error("persist trade failed", zap.String("trade_id", tr.ID), zap.Error(err))
	}
}

func (m *Manager) publish(event events.Event, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event, payload)
}

func retryable(err error) bool {
	return exchange.IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded)
}

func entrySide(dir signal.Direction) exchange.Side {
	if dir == signal.DirectionShort {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func exitSide(dir signal.Direction) exchange.Side {
	if dir == signal.DirectionShort {
		return exchange.SideBuy
	}
	return exchange.SideSell
}
