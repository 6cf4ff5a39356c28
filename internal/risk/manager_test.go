package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

func testSignal(dir signal.Direction, price, atr float64) signal.Signal {
	return signal.Signal{
		Pair:       "BTCUSDT",
		Direction:  dir,
		Confidence: 1,
		Price:      price,
		ATR:        atr,
		HasATR:     atr > 0,
	}
}

// testConfig uses round numbers so the sizing arithmetic in the tests stays
// checkable by hand.
func testConfig() Config {
	return Config{
		RiskPerTrade:      0.02,
		MaxOpenTrades:     3,
		MaxDrawdown:       0.25,
		PositionSizeLimit: 0.20,
		ATRMultiplier:     2.0,
		StopFallbackPct:   0.02,
		TakeProfitPct:     0.04,
		TrailingEnabled:   true,
		TrailingLock:      0.5,
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestConfigValidate(t *testing.T) {
	mutate := func(fn func(*Config)) Config {
		cfg := DefaultConfig()
		fn(&cfg)
		return cfg
	}
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero risk per trade", mutate(func(c *Config) { c.RiskPerTrade = 0 }), true},
		{"risk per trade one", mutate(func(c *Config) { c.RiskPerTrade = 1 }), true},
		{"zero open trades", mutate(func(c *Config) { c.MaxOpenTrades = 0 }), true},
		{"drawdown one", mutate(func(c *Config) { c.MaxDrawdown = 1 }), true},
		{"zero position limit", mutate(func(c *Config) { c.PositionSizeLimit = 0 }), true},
		{"negative atr multiplier", mutate(func(c *Config) { c.ATRMultiplier = -1 }), true},
		{"zero take profit", mutate(func(c *Config) { c.TakeProfitPct = 0 }), true},
		{"trailing lock out of range", mutate(func(c *Config) { c.TrailingLock = 1.5 }), true},
		{"trailing disabled ignores lock", mutate(func(c *Config) {
			c.TrailingEnabled = false
			c.TrailingLock = 0
		}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEvaluateSizesFromATR(t *testing.T) {
	m := newTestManager(t, testConfig())
	acct := Account{Equity: 10000}

	// Stop distance 2*20 = 40 makes the risk leg bind:
	// riskQty = 0.02*10000/40 = 5, capQty = 0.20*10000/100 = 20.
	dec, err := m.Evaluate(testSignal(signal.DirectionLong, 100, 20), acct, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(dec.Size-5) > 1e-12 {
		t.Errorf("Size = %v, want 5", dec.Size)
	}
	if math.Abs(dec.StopPrice-60) > 1e-12 {
		t.Errorf("StopPrice = %v, want 60", dec.StopPrice)
	}
	if math.Abs(dec.TargetPrice-104) > 1e-12 {
		t.Errorf("TargetPrice = %v, want 104", dec.TargetPrice)
	}
	if math.Abs(dec.Notional-500) > 1e-12 {
		t.Errorf("Notional = %v, want 500", dec.Notional)
	}
}

func TestEvaluateCapsBySizeLimit(t *testing.T) {
	m := newTestManager(t, testConfig())
	acct := Account{Equity: 10000}

	// Small stop distance 2*2.5 = 5: riskQty = 40 but capQty = 20.
	dec, err := m.Evaluate(testSignal(signal.DirectionLong, 100, 2.5), acct, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(dec.Size-20) > 1e-12 {
		t.Errorf("Size = %v, want cap 20", dec.Size)
	}
	if math.Abs(dec.Notional-2000) > 1e-12 {
		t.Errorf("Notional = %v, want 2000", dec.Notional)
	}
}

func TestEvaluateFallbackStopWithoutATR(t *testing.T) {
	m := newTestManager(t, testConfig())
	acct := Account{Equity: 10000}

	dec, err := m.Evaluate(testSignal(signal.DirectionLong, 100, 0), acct, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(dec.StopDistance-2) > 1e-12 {
		t.Errorf("StopDistance = %v, want fallback 2", dec.StopDistance)
	}
	if math.Abs(dec.StopPrice-98) > 1e-12 {
		t.Errorf("StopPrice = %v, want 98", dec.StopPrice)
	}
}

func TestEvaluateShortMirrorsLevels(t *testing.T) {
	m := newTestManager(t, testConfig())
	acct := Account{Equity: 10000}

	dec, err := m.Evaluate(testSignal(signal.DirectionShort, 100, 20), acct, time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(dec.StopPrice-140) > 1e-12 {
		t.Errorf("StopPrice = %v, want 140", dec.StopPrice)
	}
	if math.Abs(dec.TargetPrice-96) > 1e-12 {
		t.Errorf("TargetPrice = %v, want 96", dec.TargetPrice)
	}
}

func TestCircuitTripsAndLatches(t *testing.T) {
	m := newTestManager(t, testConfig())
	sig := testSignal(signal.DirectionLong, 100, 2.5)
	at := time.Now()

	_, err := m.Evaluate(sig, Account{Equity: 7500, Drawdown: 0.25}, at)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("at-limit drawdown error = %v, want ErrCircuitOpen", err)
	}
	if !m.CircuitOpen() {
		t.Fatal("CircuitOpen = false after trip")
	}

	// Latched: refusal continues even when drawdown recovers.
	_, err = m.Evaluate(sig, Account{Equity: 10000, Drawdown: 0}, at)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("latched circuit error = %v, want ErrCircuitOpen", err)
	}

	m.Reset()
	if m.CircuitOpen() {
		t.Fatal("CircuitOpen = true after Reset")
	}
	if _, err := m.Evaluate(sig, Account{Equity: 10000}, at); err != nil {
		t.Errorf("Evaluate after reset: %v", err)
	}
}

func TestEvaluateRefusals(t *testing.T) {
	m := newTestManager(t, testConfig())
	at := time.Now()
	long := testSignal(signal.DirectionLong, 100, 2.5)

	cases := []struct {
		name string
		sig  signal.Signal
		acct Account
	}{
		{"capacity", long, Account{Equity: 10000, OpenTrades: 3}},
		{"pair dedup", long, Account{Equity: 10000, PairOpen: true}},
		{"no direction", testSignal(signal.DirectionNone, 100, 2.5), Account{Equity: 10000}},
		{"zero price", testSignal(signal.DirectionLong, 0, 2.5), Account{Equity: 10000}},
		{"zero equity", long, Account{Equity: 0}},
		{"stop below zero", testSignal(signal.DirectionLong, 100, 60), Account{Equity: 10000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Evaluate(tc.sig, tc.acct, at)
			if !errors.Is(err, ErrRiskLimitBreached) {
				t.Errorf("error = %v, want ErrRiskLimitBreached", err)
			}
		})
	}
}

func TestTripForcesCircuit(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Trip("settlement inconsistency", time.Now())

	if !m.CircuitOpen() {
		t.Fatal("CircuitOpen = false after Trip")
	}
	st := m.Status()
	if st.TripReason != "settlement inconsistency" {
		t.Errorf("TripReason = %q", st.TripReason)
	}
}

func TestStatusCounters(t *testing.T) {
	m := newTestManager(t, testConfig())
	at := time.Now()

	if _, err := m.Evaluate(testSignal(signal.DirectionLong, 100, 2.5), Account{Equity: 10000}, at); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	_, _ = m.Evaluate(testSignal(signal.DirectionLong, 100, 2.5), Account{Equity: 10000, OpenTrades: 3}, at)

	st := m.Status()
	if st.Evaluated != 2 || st.Approved != 1 || st.Refused != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", st.Evaluated, st.Approved, st.Refused)
	}
	if st.LastRefusal == "" {
		t.Error("LastRefusal empty after refusal")
	}
}

func TestSetConfigValidates(t *testing.T) {
	m := newTestManager(t, testConfig())

	bad := testConfig()
	bad.MaxOpenTrades = -1
	if err := m.SetConfig(bad); err == nil {
		t.Fatal("SetConfig accepted invalid config")
	}

	good := testConfig()
	good.MaxOpenTrades = 5
	if err := m.SetConfig(good); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if got := m.Config().MaxOpenTrades; got != 5 {
		t.Errorf("MaxOpenTrades = %d, want 5", got)
	}
}
