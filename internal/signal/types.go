// Package signal turns indicator snapshots into directional trade signals by
// equal-weight majority voting.
package signal

import (
	"fmt"
	"time"
)

// Direction of a signal or trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// Opposite returns the reversed direction; none stays none.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// Vote is a single indicator's directional opinion; DirectionNone means the
// indicator abstained.
type Vote struct {
	Indicator string    `json:"indicator"`
	Direction Direction `json:"direction"`
}

// Signal is the aggregated outcome for one pair at one candle close.
// Confidence is the fraction of non-abstaining indicators that agree with the
// majority; Reason explains DirectionNone outcomes.
type Signal struct {
	Pair       string    `json:"pair"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Votes      []Vote    `json:"votes"`
	Price      float64   `json:"price"`
	ATR        float64   `json:"atr"`
	HasATR     bool      `json:"has_atr"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason,omitempty"`
}

// Actionable reports whether the signal proposes opening a trade.
func (s Signal) Actionable() bool {
	return s.Direction == DirectionLong || s.Direction == DirectionShort
}

// Config holds the aggregation thresholds.
type Config struct {
	RSIOverbought         float64 `yaml:"rsi_overbought"`
	RSIOversold           float64 `yaml:"rsi_oversold"`
	ADXThreshold          float64 `yaml:"adx_threshold"`
	MACDCrossoverRequired bool    `yaml:"macd_crossover_required"`
	MinConfidence         float64 `yaml:"min_confidence"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		RSIOverbought: 70,
		RSIOversold:   30,
		ADXThreshold:  25,
		MinConfidence: 0.4,
	}
}

// Validate checks threshold sanity.
func (c Config) Validate() error {
	if c.RSIOversold <= 0 || c.RSIOverbought >= 100 || c.RSIOversold >= c.RSIOverbought {
		return fmt.Errorf("rsi thresholds invalid: oversold %v, overbought %v", c.RSIOversold, c.RSIOverbought)
	}
	if c.ADXThreshold < 0 {
		return fmt.Errorf("adx_threshold must not be negative, got %v", c.ADXThreshold)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence)
	}
	return nil
}
