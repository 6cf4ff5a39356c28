// Package risk gates every entry signal through the drawdown circuit,
// capacity and dedup rules, and position sizing. Open positions carry
// ratcheting stops managed by the StopTracker.
package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

// Manager evaluates signals against risk rules. The circuit latches once
// tripped and admissions stay refused until Reset.
type Manager struct {
	mu  sync.RWMutex
	cfg Config
	log *zap.Logger

	circuitOpen bool
	trippedAt   time.Time
	tripReason  string

	evaluated   uint64
	approved    uint64
	refused     uint64
	lastRefusal string
}

// NewManager creates a risk manager with a validated config.
func NewManager(cfg Config, log *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg: cfg,
		log: log.With(zap.String("component", "risk")),
	}, nil
}

// Evaluate runs the admission checks in order: circuit, capacity, dedup,
// sizing. It returns the sizing decision on approval, or a wrapped
// ErrCircuitOpen / ErrRiskLimitBreached on refusal.
func (m *Manager) Evaluate(sig signal.Signal, acct Account, at time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evaluated++
	cfg := m.cfg

	if !m.circuitOpen && acct.Drawdown >= cfg.MaxDrawdown {
		m.circuitOpen = true
		m.trippedAt = at
		m.tripReason = fmt.Sprintf("drawdown %.4f reached limit %.4f", acct.Drawdown, cfg.MaxDrawdown)
		m.log.Warn("drawdown circuit tripped",
			zap.Float64("drawdown", acct.Drawdown),
			zap.Float64("max_drawdown", cfg.MaxDrawdown))
	}
	if m.circuitOpen {
		return m.refuseLocked(fmt.Errorf("%w: %s", ErrCircuitOpen, m.tripReason))
	}

	if acct.OpenTrades >= cfg.MaxOpenTrades {
		return m.refuseLocked(fmt.Errorf("%w: open trades %d at limit %d",
			ErrRiskLimitBreached, acct.OpenTrades, cfg.MaxOpenTrades))
	}

	if acct.PairOpen {
		return m.refuseLocked(fmt.Errorf("%w: %s already has a live trade",
			ErrRiskLimitBreached, sig.Pair))
	}

	if sig.Price <= 0 {
		return m.refuseLocked(fmt.Errorf("%w: non-positive price %v",
			ErrRiskLimitBreached, sig.Price))
	}

	stopDistance := cfg.StopFallbackPct * sig.Price
	if sig.HasATR && sig.ATR > 0 {
		stopDistance = cfg.ATRMultiplier * sig.ATR
	}
	if stopDistance <= 0 {
		return m.refuseLocked(fmt.Errorf("%w: non-positive stop distance",
			ErrRiskLimitBreached))
	}

	riskQty := cfg.RiskPerTrade * acct.Equity / stopDistance
	capQty := cfg.PositionSizeLimit * acct.Equity / sig.Price
	size := riskQty
	if capQty < size {
		size = capQty
	}
	if size <= 0 {
		return m.refuseLocked(fmt.Errorf("%w: non-positive size (equity %v)",
			ErrRiskLimitBreached, acct.Equity))
	}

	dec := Decision{
		Size:         size,
		Notional:     size * sig.Price,
		StopDistance: stopDistance,
	}
	switch sig.Direction {
	case signal.DirectionLong:
		dec.StopPrice = sig.Price - stopDistance
		dec.TargetPrice = sig.Price * (1 + cfg.TakeProfitPct)
	case signal.DirectionShort:
		dec.StopPrice = sig.Price + stopDistance
		dec.TargetPrice = sig.Price * (1 - cfg.TakeProfitPct)
	default:
		return m.refuseLocked(fmt.Errorf("%w: signal has no direction", ErrRiskLimitBreached))
	}
	if dec.StopPrice <= 0 || dec.TargetPrice <= 0 {
		return m.refuseLocked(fmt.Errorf("%w: stop %v or target %v not positive",
			ErrRiskLimitBreached, dec.StopPrice, dec.TargetPrice))
	}

	m.approved++
	m.log.Debug("signal admitted",
		zap.String("pair", sig.Pair),
		zap.String("direction", string(sig.Direction)),
		zap.Float64("size", dec.Size),
		zap.Float64("stop", dec.StopPrice),
		zap.Float64("target", dec.TargetPrice))
	return dec, nil
}

func (m *Manager) refuseLocked(err error) (Decision, error) {
	m.refused++
	m.lastRefusal = err.Error()
	return Decision{}, err
}

// Trip forces the circuit open. Used when settlement accounting detects a
// fatal inconsistency.
func (m *Manager) Trip(reason string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.circuitOpen {
		return
	}
	m.circuitOpen = true
	m.trippedAt = at
	m.tripReason = reason
	m.log.Error("risk circuit forced open", zap.String("reason", reason))
}

// Reset closes the circuit. The caller is expected to rebase the portfolio
// peak in the same operation.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasOpen := m.circuitOpen
	m.circuitOpen = false
	m.trippedAt = time.Time{}
	m.tripReason = ""
	if wasOpen {
		m.log.Info("risk circuit reset")
	}
}

// CircuitOpen reports whether admissions are currently refused.
func (m *Manager) CircuitOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.circuitOpen
}

// Status returns the operator view.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		CircuitOpen: m.circuitOpen,
		TrippedAt:   m.trippedAt,
		TripReason:  m.tripReason,
		Evaluated:   m.evaluated,
		Approved:    m.approved,
		Refused:     m.refused,
		LastRefusal: m.lastRefusal,
		Config:      m.cfg,
	}
}

// Config returns a copy of the current parameters.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetConfig swaps the parameters after validation. Live trades keep the
// stops they were admitted with.
func (m *Manager) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("risk config: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.log.Info("risk config updated",
		zap.Float64("risk_per_trade", cfg.RiskPerTrade),
		zap.Int("max_open_trades", cfg.MaxOpenTrades),
		zap.Float64("max_drawdown", cfg.MaxDrawdown))
	return nil
}
