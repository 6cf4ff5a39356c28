package lifecycle

import (
	"errors"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

var (
	// ErrStuck means close attempts were exhausted and the trade needs an
	// operator retry.
	ErrStuck = errors.New("trade stuck")
	// ErrTradeNotFound means no live trade matches the id.
	ErrTradeNotFound = errors.New("trade not found")
	// ErrHalted means the manager no longer accepts new entries.
	ErrHalted = errors.New("lifecycle halted")
)

// State is a trade's position in the lifecycle.
type State string

const (
	StatePendingEntry State = "pending_entry"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateStuck        State = "stuck"
)

// ExitReason records why a close was initiated.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitMaxHold    ExitReason = "max_hold"
	ExitReversal   ExitReason = "reversal"
	ExitManual     ExitReason = "manual"
	ExitCircuit    ExitReason = "circuit"
	// ExitEndOfData closes positions left open when a historical replay
	// runs out of candles.
	ExitEndOfData ExitReason = "end_of_data"
	// ExitReconciled marks a stored trade whose settlement write was lost
	// in a crash; the journal no longer knows it, so its row is closed out
	// during startup reconciliation.
	ExitReconciled ExitReason = "reconciled"
)

// Trade is the full record of one position from admission to settlement.
type Trade struct {
	ID        string           `json:"id"`
	Pair      string           `json:"pair"`
	Direction signal.Direction `json:"direction"`
	State     State            `json:"state"`
	Size      float64          `json:"size"`
	Notional  float64          `json:"notional"`
	// SignalPrice is the reference price the trade was admitted at; the
	// entry fill may slip from it.
	SignalPrice float64    `json:"signal_price"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price,omitempty"`
	StopPrice   float64    `json:"stop_price"`
	Target      float64    `json:"target_price"`
	EntryFee    float64    `json:"entry_fee"`
	ExitFee     float64    `json:"exit_fee,omitempty"`
	PnL         float64    `json:"pnl"`
	ExitReason  ExitReason `json:"exit_reason,omitempty"`
	Confidence  float64    `json:"confidence"`
	CreatedAt   time.Time  `json:"created_at"`
	OpenedAt    time.Time  `json:"opened_at,omitempty"`
	ClosedAt    time.Time  `json:"closed_at,omitempty"`
	// Deadline is the max-hold expiry; zero means no expiry.
	Deadline time.Time `json:"deadline,omitempty"`
	Attempts int       `json:"attempts"`
}

// Live reports whether the trade still holds budget.
func (t Trade) Live() bool {
	switch t.State {
	case StatePendingEntry, StateOpen, StateClosing, StateStuck:
		return true
	}
	return false
}

// RetryNotice is published on the bus for each transient order retry.
type RetryNotice struct {
	TradeID string `json:"trade_id"`
	Pair    string `json:"pair"`
	Phase   string `json:"phase"` // entry or close
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}

// Config tunes entry and close behavior.
type Config struct {
	// MaxEntryAttempts bounds entry submissions before giving up.
	MaxEntryAttempts int `yaml:"max_entry_attempts"`
	// MaxCloseAttempts bounds close submissions before marking Stuck.
	MaxCloseAttempts int `yaml:"max_close_attempts"`
	// RetryBackoff is the first retry delay; it doubles per attempt up to
	// MaxBackoff. Zero disables the sleep.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	// EntryTimeout bounds a single order submission, entry or close.
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	// MaxHold force-closes a position after this duration. Zero disables.
	MaxHold time.Duration `yaml:"max_hold"`
}

// DefaultConfig returns the stock lifecycle parameters.
func DefaultConfig() Config {
	return Config{
		MaxEntryAttempts: 3,
		MaxCloseAttempts: 5,
		RetryBackoff:     500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
		EntryTimeout:     5 * time.Second,
		MaxHold:          24 * time.Hour,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.MaxEntryAttempts <= 0 {
		return errors.New("max_entry_attempts must be positive")
	}
	if c.MaxCloseAttempts <= 0 {
		return errors.New("max_close_attempts must be positive")
	}
	if c.RetryBackoff < 0 || c.MaxBackoff < 0 || c.EntryTimeout < 0 || c.MaxHold < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
