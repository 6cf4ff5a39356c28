// Package backtest replays historical candles through the live decision
// pipeline with simulated fills, producing reproducible performance reports
// and Monte Carlo robustness estimates.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/indicators"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

var (
	// ErrInsufficientCandles means the input series is shorter than the
	// configured minimum.
	ErrInsufficientCandles = errors.New("insufficient candles")
	// ErrInsufficientSample means too few realized trades for a meaningful
	// Monte Carlo distribution.
	ErrInsufficientSample = errors.New("insufficient sample size")
)

// Config parameterizes one simulation run. The decision components use the
// same configuration types as live trading.
type Config struct {
	InitialBalance float64           `yaml:"initial_balance" json:"initial_balance"`
	Timeframe      string            `yaml:"timeframe" json:"timeframe"`
	MinCandles     int               `yaml:"min_candles" json:"min_candles"`
	SlippageBps    float64           `yaml:"slippage_bps" json:"slippage_bps"`
	FeeBps         float64           `yaml:"fee_bps" json:"fee_bps"`
	MaxHold        time.Duration     `yaml:"max_hold" json:"max_hold"`
	Seed           int64             `yaml:"seed" json:"seed"`
	Indicators     indicators.Config `yaml:"indicators" json:"indicators"`
	Signal         signal.Config     `yaml:"signal" json:"signal"`
	Risk           risk.Config       `yaml:"risk" json:"risk"`
}

// DefaultConfig returns the stock simulation parameters.
func DefaultConfig() Config {
	return Config{
		InitialBalance: 10_000,
		Timeframe:      "1h",
		MinCandles:     30,
		SlippageBps:    5,
		FeeBps:         10,
		Seed:           1,
		Indicators:     indicators.DefaultConfig(),
		Signal:         signal.DefaultConfig(),
		Risk:           risk.DefaultConfig(),
	}
}

// Validate checks the run parameters.
func (c Config) Validate() error {
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be positive, got %v", c.InitialBalance)
	}
	if c.MinCandles <= 0 {
		return fmt.Errorf("min_candles must be positive, got %d", c.MinCandles)
	}
	if c.SlippageBps < 0 || c.FeeBps < 0 {
		return fmt.Errorf("slippage_bps and fee_bps must not be negative")
	}
	if c.MaxHold < 0 {
		return fmt.Errorf("max_hold must not be negative, got %v", c.MaxHold)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if err := c.Signal.Validate(); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	return nil
}

// EquityPoint is one sample of the realized equity curve.
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}

// Result is the outcome of one deterministic replay. Ratios are fractions,
// not percentages.
type Result struct {
	Seed           int64             `json:"seed"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	Candles        int               `json:"candles"`
	InitialBalance float64           `json:"initial_balance"`
	FinalBalance   float64           `json:"final_balance"`
	TotalReturn    float64           `json:"total_return"`
	Sharpe         float64           `json:"sharpe"`
	MaxDrawdown    float64           `json:"max_drawdown"`
	WinRate        float64           `json:"win_rate"`
	ProfitFactor   float64           `json:"profit_factor"`
	Trades         []lifecycle.Trade `json:"trades"`
	EquityCurve    []EquityPoint     `json:"equity_curve"`
}

// MonteCarloConfig parameterizes the bootstrap.
type MonteCarloConfig struct {
	Runs int   `yaml:"runs" json:"runs"`
	Seed int64 `yaml:"seed" json:"seed"`
	// MinSample is the fewest realized trades accepted before resampling.
	MinSample int `yaml:"min_sample" json:"min_sample"`
	// RuinDrawdown is the peak-relative loss that counts a path as ruined,
	// normally the live max_drawdown limit.
	RuinDrawdown float64 `yaml:"ruin_drawdown" json:"ruin_drawdown"`
}

// DefaultMonteCarloConfig returns the stock bootstrap parameters.
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Runs:         1000,
		Seed:         1,
		MinSample:    5,
		RuinDrawdown: risk.DefaultConfig().MaxDrawdown,
	}
}

// MonteCarloResult summarizes the distribution of resampled equity paths.
// Percentiles key the final balance by percentile rank.
type MonteCarloResult struct {
	Runs            int             `json:"runs"`
	Sample          int             `json:"sample"`
	Percentiles     map[int]float64 `json:"percentiles"`
	Mean            float64         `json:"mean"`
	Std             float64         `json:"std"`
	Min             float64         `json:"min"`
	Max             float64         `json:"max"`
	WorstDrawdown   float64         `json:"worst_drawdown"`
	AvgDrawdown     float64         `json:"avg_drawdown"`
	RuinProbability float64         `json:"ruin_probability"`
}
