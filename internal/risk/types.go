package risk

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen means the drawdown circuit breaker has tripped and all
	// admissions are refused until an operator reset.
	ErrCircuitOpen = errors.New("risk circuit open")
	// ErrRiskLimitBreached means a capacity, dedup or sizing rule refused
	// the signal.
	ErrRiskLimitBreached = errors.New("risk limit breached")
)

// Config defines the admission and stop parameters.
type Config struct {
	// RiskPerTrade is the fraction of equity put at risk between entry and
	// stop on a single trade.
	RiskPerTrade float64 `yaml:"risk_per_trade" json:"risk_per_trade"`
	// MaxOpenTrades caps concurrent live trades across all pairs.
	MaxOpenTrades int `yaml:"max_open_trades" json:"max_open_trades"`
	// MaxDrawdown is the peak-to-equity fraction that trips the circuit.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
	// PositionSizeLimit caps a single trade's notional as a fraction of equity.
	PositionSizeLimit float64 `yaml:"position_size_limit" json:"position_size_limit"`
	// ATRMultiplier scales ATR into the stop distance.
	ATRMultiplier float64 `yaml:"atr_multiplier" json:"atr_multiplier"`
	// StopFallbackPct is the stop distance as a fraction of price when no
	// ATR is available yet.
	StopFallbackPct float64 `yaml:"stop_fallback_pct" json:"stop_fallback_pct"`
	// TakeProfitPct sets the fixed profit target relative to entry.
	TakeProfitPct float64 `yaml:"take_profit_pct" json:"take_profit_pct"`
	// TrailingEnabled turns the ratcheting stop on.
	TrailingEnabled bool `yaml:"trailing_enabled" json:"trailing_enabled"`
	// TrailingLock is the fraction of peak profit the ratcheted stop locks in.
	TrailingLock float64 `yaml:"trailing_lock" json:"trailing_lock"`
}

// DefaultConfig returns the stock risk parameters.
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:      0.01,
		MaxOpenTrades:     3,
		MaxDrawdown:       0.10,
		PositionSizeLimit: 0.20,
		ATRMultiplier:     2.0,
		StopFallbackPct:   0.02,
		TakeProfitPct:     0.02,
		TrailingEnabled:   true,
		TrailingLock:      0.5,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	if c.RiskPerTrade <= 0 || c.RiskPerTrade >= 1 {
		return fmt.Errorf("risk_per_trade must be in (0,1), got %v", c.RiskPerTrade)
	}
	if c.MaxOpenTrades <= 0 {
		return fmt.Errorf("max_open_trades must be positive, got %d", c.MaxOpenTrades)
	}
	if c.MaxDrawdown <= 0 || c.MaxDrawdown >= 1 {
		return fmt.Errorf("max_drawdown must be in (0,1), got %v", c.MaxDrawdown)
	}
	if c.PositionSizeLimit <= 0 || c.PositionSizeLimit > 1 {
		return fmt.Errorf("position_size_limit must be in (0,1], got %v", c.PositionSizeLimit)
	}
	if c.ATRMultiplier <= 0 {
		return fmt.Errorf("atr_multiplier must be positive, got %v", c.ATRMultiplier)
	}
	if c.StopFallbackPct <= 0 || c.StopFallbackPct >= 1 {
		return fmt.Errorf("stop_fallback_pct must be in (0,1), got %v", c.StopFallbackPct)
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive, got %v", c.TakeProfitPct)
	}
	if c.TrailingEnabled && (c.TrailingLock <= 0 || c.TrailingLock > 1) {
		return fmt.Errorf("trailing_lock must be in (0,1], got %v", c.TrailingLock)
	}
	return nil
}

// Account is the portfolio view the admission checks run against.
type Account struct {
	Equity     float64 `json:"equity"`
	Drawdown   float64 `json:"drawdown"`
	OpenTrades int     `json:"open_trades"`
	// PairOpen reports a live (pending, open or closing) trade on the
	// signal's pair.
	PairOpen bool `json:"pair_open"`
}

// Decision carries the sizing and protective levels of an approved signal.
type Decision struct {
	Size         float64 `json:"size"`
	Notional     float64 `json:"notional"`
	StopPrice    float64 `json:"stop_price"`
	TargetPrice  float64 `json:"target_price"`
	StopDistance float64 `json:"stop_distance"`
}

// Status is the operator view of the risk state.
type Status struct {
	CircuitOpen bool      `json:"circuit_open"`
	TrippedAt   time.Time `json:"tripped_at,omitempty"`
	TripReason  string    `json:"trip_reason,omitempty"`
	Evaluated   uint64    `json:"evaluated"`
	Approved    uint64    `json:"approved"`
	Refused     uint64    `json:"refused"`
	LastRefusal string    `json:"last_refusal,omitempty"`
	Config      Config    `json:"config"`
}
