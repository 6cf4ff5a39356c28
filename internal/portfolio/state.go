// Package portfolio owns account equity, reservation budget and drawdown
// accounting. All mutations are linearized behind one mutex so invariants
// hold under concurrent pair runners.
package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDoubleSettlement means a trade was settled or released twice. The
	// state is left untouched; callers treat it as fatal for admissions.
	ErrDoubleSettlement = errors.New("trade already settled")
	// ErrUnknownTrade means the trade has no reservation.
	ErrUnknownTrade = errors.New("unknown trade")
	// ErrInsufficientFunds means the reservation exceeds available equity.
	ErrInsufficientFunds = errors.New("insufficient available equity")
)

type reservation struct {
	pair     string
	notional float64
}

// Snapshot is a point-in-time view of the portfolio.
type Snapshot struct {
	Equity     float64   `json:"equity"`
	Peak       float64   `json:"peak"`
	Drawdown   float64   `json:"drawdown"`
	Reserved   float64   `json:"reserved"`
	Available  float64   `json:"available"`
	OpenTrades int       `json:"open_trades"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// State tracks equity and reservations. Peak only moves up, except through
// RebasePeak during an operator risk reset. Drawdown is (peak−equity)/peak.
type State struct {
	mu        sync.Mutex
	log       *zap.Logger
	equity    float64
	peak      float64
	reserved  map[string]reservation
	settled   map[string]time.Time
	updatedAt time.Time
}

// NewState creates a portfolio with the given starting equity.
func NewState(initialEquity float64, log *zap.Logger) (*State, error) {
	if initialEquity <= 0 {
		return nil, fmt.Errorf("initial equity must be positive, got %v", initialEquity)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &State{
		log:      log.With(zap.String("component", "portfolio")),
		equity:   initialEquity,
		peak:     initialEquity,
		reserved: make(map[string]reservation),
		settled:  make(map[string]time.Time),
	}, nil
}

// Reserve locks notional budget for an admitted trade.
func (s *State) Reserve(tradeID, pair string, notional float64) error {
	if notional <= 0 {
		return fmt.Errorf("reservation for %s must be positive, got %v", tradeID, notional)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.reserved[tradeID]; dup {
		return fmt.Errorf("trade %s already reserved", tradeID)
	}
	if _, done := s.settled[tradeID]; done {
		return fmt.Errorf("trade %s: %w", tradeID, ErrDoubleSettlement)
	}
	if notional > s.availableLocked() {
		return fmt.Errorf("trade %s needs %v of %v: %w",
			tradeID, notional, s.availableLocked(), ErrInsufficientFunds)
	}

	s.reserved[tradeID] = reservation{pair: pair, notional: notional}
	s.log.Debug("budget reserved",
		zap.String("trade_id", tradeID),
		zap.String("pair", pair),
		zap.Float64("notional", notional))
	return nil
}

// Release frees a reservation for a trade that never opened (rejected entry,
// cancel, timeout). Releasing a settled trade is a double settlement.
func (s *State) Release(tradeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.settled[tradeID]; done {
		return fmt.Errorf("trade %s: %w", tradeID, ErrDoubleSettlement)
	}
	if _, ok := s.reserved[tradeID]; !ok {
		return fmt.Errorf("trade %s: %w", tradeID, ErrUnknownTrade)
	}
	delete(s.reserved, tradeID)
	s.log.Debug("budget released", zap.String("trade_id", tradeID))
	return nil
}

// Settle applies the realized PnL of a closed trade exactly once and frees
// its reservation. A second settlement attempt returns ErrDoubleSettlement
// with the state unchanged.
func (s *State) Settle(tradeID string, pnl float64, at time.Time) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.settled[tradeID]; done {
		return Snapshot{}, fmt.Errorf("trade %s: %w", tradeID, ErrDoubleSettlement)
	}
	if _, ok := s.reserved[tradeID]; !ok {
		return Snapshot{}, fmt.Errorf("trade %s: %w", tradeID, ErrUnknownTrade)
	}

	delete(s.reserved, tradeID)
	s.settled[tradeID] = at
	s.equity += pnl
	if s.equity > s.peak {
		s.peak = s.equity
	}
	s.updatedAt = at

	snap := s.snapshotLocked()
	s.log.Info("trade settled",
		zap.String("trade_id", tradeID),
		zap.Float64("pnl", pnl),
		zap.Float64("equity", snap.Equity),
		zap.Float64("drawdown", snap.Drawdown))
	return snap, nil
}

// RebasePeak sets the peak to current equity. Used by the operator risk
// reset to close the drawdown circuit.
func (s *State) RebasePeak() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peak = s.equity
	s.log.Info("peak rebased", zap.Float64("peak", s.peak))
	return s.snapshotLocked()
}

// HasOpenPair reports whether a live reservation exists for the pair.
func (s *State) HasOpenPair(pair string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reserved {
		if r.pair == pair {
			return true
		}
	}
	return false
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) availableLocked() float64 {
	total := 0.0
	for _, r := range s.reserved {
		total += r.notional
	}
	return s.equity - total
}

func (s *State) snapshotLocked() Snapshot {
	reserved := 0.0
	for _, r := range s.reserved {
		reserved += r.notional
	}
	dd := 0.0
	if s.peak > 0 && s.equity < s.peak {
		dd = (s.peak - s.equity) / s.peak
	}
	return Snapshot{
		Equity:     s.equity,
		Peak:       s.peak,
		Drawdown:   dd,
		Reserved:   reserved,
		Available:  s.equity - reserved,
		OpenTrades: len(s.reserved),
		UpdatedAt:  s.updatedAt,
	}
}
