package signal

import (
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/indicators"
)

// Reasons attached to DirectionNone signals.
const (
	ReasonADXBelowThreshold = "adx below threshold"
	ReasonNoVotes           = "all indicators abstained"
	ReasonTie               = "vote tie"
	ReasonLowConfidence     = "confidence below minimum"
)

// Aggregator applies the voting rules to indicator snapshots. Every voting
// indicator carries the same weight; ties and low-trend markets produce no
// signal.
type Aggregator struct {
	cfg Config
}

// NewAggregator builds an aggregator with the given thresholds.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Evaluate derives the signal for one snapshot.
func (a *Aggregator) Evaluate(snap indicators.Snapshot) Signal {
	votes := []Vote{
		{Indicator: "rsi", Direction: a.rsiVote(snap.RSI)},
		{Indicator: "macd", Direction: a.macdVote(snap.MACD)},
		{Indicator: "ema", Direction: a.emaVote(snap.EMAShort, snap.EMALong)},
	}

	sig := Signal{
		Pair:      snap.Pair,
		Direction: DirectionNone,
		Votes:     votes,
		Price:     snap.Price,
		ATR:       snap.ATR,
		HasATR:    snap.HasATR,
		At:        time.UnixMilli(snap.At).UTC(),
	}

	// Trend filter: without directional strength every vote is suppressed.
	if snap.ADX < a.cfg.ADXThreshold {
		sig.Reason = ReasonADXBelowThreshold
		return sig
	}

	var longs, shorts int
	for _, v := range votes {
		switch v.Direction {
		case DirectionLong:
			longs++
		case DirectionShort:
			shorts++
		}
	}

	total := longs + shorts
	if total == 0 {
		sig.Reason = ReasonNoVotes
		return sig
	}
	if longs == shorts {
		sig.Reason = ReasonTie
		return sig
	}

	dir := DirectionLong
	agree := longs
	if shorts > longs {
		dir = DirectionShort
		agree = shorts
	}

	confidence := float64(agree) / float64(total)
	sig.Confidence = confidence
	if confidence < a.cfg.MinConfidence {
		sig.Reason = ReasonLowConfidence
		return sig
	}

	sig.Direction = dir
	return sig
}

func (a *Aggregator) rsiVote(rsi float64) Direction {
	switch {
	case rsi < a.cfg.RSIOversold:
		return DirectionLong
	case rsi > a.cfg.RSIOverbought:
		return DirectionShort
	default:
		return DirectionNone
	}
}

func (a *Aggregator) macdVote(m indicators.MACDValue) Direction {
	if a.cfg.MACDCrossoverRequired {
		switch {
		case m.CrossedUp:
			return DirectionLong
		case m.CrossedDown:
			return DirectionShort
		default:
			return DirectionNone
		}
	}
	switch {
	case m.Line > m.Signal:
		return DirectionLong
	case m.Line < m.Signal:
		return DirectionShort
	default:
		return DirectionNone
	}
}

func (a *Aggregator) emaVote(short, long float64) Direction {
	switch {
	case short > long:
		return DirectionLong
	case short < long:
		return DirectionShort
	default:
		return DirectionNone
	}
}
