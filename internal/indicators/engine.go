// Package indicators maintains per-pair incremental technical indicator state
// over candle streams.
package indicators

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ahmedhalloub17/tradingbot/internal/market"
)

// ErrInsufficientData is returned while an indicator window is still warming
// up.
var ErrInsufficientData = errors.New("insufficient data")

// Config holds the indicator periods. Thresholds live with the signal
// aggregator; this package only computes values.
type Config struct {
	RSIPeriod  int `yaml:"rsi_period"`
	MACDFast   int `yaml:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow"`
	MACDSignal int `yaml:"macd_signal"`
	EMAShort   int `yaml:"ema_short"`
	EMALong    int `yaml:"ema_long"`
	ADXPeriod  int `yaml:"adx_period"`
	ATRPeriod  int `yaml:"atr_period"`
}

// DefaultConfig returns the standard periods.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		EMAShort:   12,
		EMALong:    26,
		ADXPeriod:  14,
		ATRPeriod:  14,
	}
}

// Validate checks the periods are usable.
func (c Config) Validate() error {
	for name, v := range map[string]int{
		"rsi_period":  c.RSIPeriod,
		"macd_fast":   c.MACDFast,
		"macd_slow":   c.MACDSlow,
		"macd_signal": c.MACDSignal,
		"ema_short":   c.EMAShort,
		"ema_long":    c.EMALong,
		"adx_period":  c.ADXPeriod,
		"atr_period":  c.ATRPeriod,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.MACDFast >= c.MACDSlow {
		return fmt.Errorf("macd_fast %d must be below macd_slow %d", c.MACDFast, c.MACDSlow)
	}
	if c.EMAShort >= c.EMALong {
		return fmt.Errorf("ema_short %d must be below ema_long %d", c.EMAShort, c.EMALong)
	}
	return nil
}

// MACDValue is the MACD line family for the latest candle. CrossedUp and
// CrossedDown report whether the line crossed the signal on that candle.
type MACDValue struct {
	Line        float64 `json:"line"`
	Signal      float64 `json:"signal"`
	Histogram   float64 `json:"histogram"`
	CrossedUp   bool    `json:"crossed_up"`
	CrossedDown bool    `json:"crossed_down"`
}

// Snapshot bundles the current indicator values for a pair. ATR warms up
// independently; HasATR reports whether it is usable yet.
type Snapshot struct {
	Pair     string    `json:"pair"`
	At       int64     `json:"at"`
	Price    float64   `json:"price"`
	RSI      float64   `json:"rsi"`
	MACD     MACDValue `json:"macd"`
	EMAShort float64   `json:"ema_short"`
	EMALong  float64   `json:"ema_long"`
	ADX      float64   `json:"adx"`
	ATR      float64   `json:"atr"`
	HasATR   bool      `json:"has_atr"`
}

type pairState struct {
	rsi      *rsiState
	macd     *macdState
	emaShort *emaState
	emaLong  *emaState
	adx      *adxState
	atr      *atrState

	lastClose float64
	lastTime  int64
}

// Engine maintains indicator state per pair. Updates for different pairs are
// independent; the mutex only guards the pair map and per-pair appends.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	pairs map[string]*pairState
}

// NewEngine builds an engine with the given periods.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		pairs: make(map[string]*pairState),
	}
}

func (e *Engine) state(pair string) *pairState {
	st, ok := e.pairs[pair]
	if !ok {
		st = &pairState{
			rsi:      newRSIState(e.cfg.RSIPeriod),
			macd:     newMACDState(e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal),
			emaShort: newEMAState(e.cfg.EMAShort),
			emaLong:  newEMAState(e.cfg.EMALong),
			adx:      newADXState(e.cfg.ADXPeriod),
			atr:      newATRState(e.cfg.ATRPeriod),
		}
		e.pairs[pair] = st
	}
	return st
}

// Update ingests one candle and returns the post-update snapshot. It returns
// ErrInsufficientData until every voting indicator (RSI, MACD, EMA pair, ADX)
// is warm; ATR availability is reported via the snapshot instead since sizing
// has a fallback for it.
func (e *Engine) Update(c market.Candle) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(c.Pair)
	st.rsi.update(c.Close)
	st.macd.update(c.Close)
	st.emaShort.update(c.Close)
	st.emaLong.update(c.Close)
	st.adx.update(c.High, c.Low, c.Close)
	st.atr.update(c.High, c.Low, c.Close)
	st.lastClose = c.Close
	st.lastTime = c.OpenTime

	return e.snapshotLocked(c.Pair, st)
}

// Snapshot returns the current values for a pair without ingesting data.
func (e *Engine) Snapshot(pair string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.pairs[pair]
	if !ok {
		return Snapshot{}, fmt.Errorf("pair %s: %w", pair, ErrInsufficientData)
	}
	return e.snapshotLocked(pair, st)
}

func (e *Engine) snapshotLocked(pair string, st *pairState) (Snapshot, error) {
	if !st.rsi.ready() || !st.macd.ready() || !st.emaLong.ready() || !st.adx.ready() {
		return Snapshot{}, fmt.Errorf("pair %s: %w", pair, ErrInsufficientData)
	}

	snap := Snapshot{
		Pair:     pair,
		At:       st.lastTime,
		Price:    st.lastClose,
		RSI:      st.rsi.value(),
		MACD:     st.macd.value(),
		EMAShort: st.emaShort.value,
		EMALong:  st.emaLong.value,
		ADX:      st.adx.value,
	}
	if st.atr.ready() {
		snap.ATR = st.atr.value
		snap.HasATR = true
	}
	return snap, nil
}

// RSI returns the current RSI for a pair.
func (e *Engine) RSI(pair string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pairs[pair]
	if !ok || !st.rsi.ready() {
		return 0, fmt.Errorf("rsi %s: %w", pair, ErrInsufficientData)
	}
	return st.rsi.value(), nil
}

// MACD returns the current MACD values for a pair.
func (e *Engine) MACD(pair string) (MACDValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pairs[pair]
	if !ok || !st.macd.ready() {
		return MACDValue{}, fmt.Errorf("macd %s: %w", pair, ErrInsufficientData)
	}
	return st.macd.value(), nil
}

// EMA returns the current short and long EMAs for a pair.
func (e *Engine) EMA(pair string) (short, long float64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pairs[pair]
	if !ok || !st.emaLong.ready() {
		return 0, 0, fmt.Errorf("ema %s: %w", pair, ErrInsufficientData)
	}
	return st.emaShort.value, st.emaLong.value, nil
}

// ADX returns the current ADX for a pair.
func (e *Engine) ADX(pair string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pairs[pair]
	if !ok || !st.adx.ready() {
		return 0, fmt.Errorf("adx %s: %w", pair, ErrInsufficientData)
	}
	return st.adx.value, nil
}

// ATR returns the current ATR for a pair.
func (e *Engine) ATR(pair string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pairs[pair]
	if !ok || !st.atr.ready() {
		return 0, fmt.Errorf("atr %s: %w", pair, ErrInsufficientData)
	}
	return st.atr.value, nil
}

// Reset drops all state for a pair; the next Update starts a fresh window.
func (e *Engine) Reset(pair string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pairs, pair)
}
