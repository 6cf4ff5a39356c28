package backtest

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func resultWithPnL(initial float64, pnls ...float64) *Result {
	return &Result{
		InitialBalance: initial,
		Trades:         tradesWithPnL(pnls...),
	}
}

func mcConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Runs:         1000,
		Seed:         42,
		MinSample:    5,
		RuinDrawdown: 0.25,
	}
}

func TestMonteCarloSampleFloor(t *testing.T) {
	res := resultWithPnL(1000, 10, -5, 20)
	_, err := MonteCarlo(res, mcConfig())
	if !errors.Is(err, ErrInsufficientSample) {
		t.Fatalf("error = %v, want ErrInsufficientSample", err)
	}
}

func TestMonteCarloValidation(t *testing.T) {
	res := resultWithPnL(1000, 10, -5, 20, 30, -8)

	bad := mcConfig()
	bad.Runs = 0
	if _, err := MonteCarlo(res, bad); err == nil {
		t.Error("zero runs accepted")
	}

	bad = mcConfig()
	bad.RuinDrawdown = 0
	if _, err := MonteCarlo(res, bad); err == nil {
		t.Error("zero ruin drawdown accepted")
	}
}

func TestMonteCarloConstantReturns(t *testing.T) {
	// Each trade gains exactly 10% of running equity, so every resampled
	// ordering compounds to the same terminal balance.
	res := resultWithPnL(1000, 100, 110, 121, 133.1, 146.41)
	mc, err := MonteCarlo(res, mcConfig())
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}

	want := 1000 * math.Pow(1.1, 5)
	if math.Abs(mc.Mean-want) > 1e-6 {
		t.Errorf("mean = %v, want %v", mc.Mean, want)
	}
	if mc.Std > 1e-6 {
		t.Errorf("std = %v, want ~0 for constant returns", mc.Std)
	}
	if math.Abs(mc.Min-want) > 1e-6 || math.Abs(mc.Max-want) > 1e-6 {
		t.Errorf("min/max = %v/%v, want both %v", mc.Min, mc.Max, want)
	}
	for p, v := range mc.Percentiles {
		if math.Abs(v-want) > 1e-6 {
			t.Errorf("percentile %d = %v, want %v", p, v, want)
		}
	}
	if len(mc.Percentiles) != 5 {
		t.Errorf("percentile count = %d, want 5", len(mc.Percentiles))
	}
	if mc.RuinProbability != 0 {
		t.Errorf("ruin probability = %v, want 0 for all-gain paths", mc.RuinProbability)
	}
	if mc.WorstDrawdown != 0 {
		t.Errorf("worst drawdown = %v, want 0", mc.WorstDrawdown)
	}
	if mc.Sample != 5 || mc.Runs != 1000 {
		t.Errorf("sample/runs = %d/%d, want 5/1000", mc.Sample, mc.Runs)
	}
}

func TestMonteCarloRuin(t *testing.T) {
	// Five consecutive halvings: every path loses 96.875% peak to trough.
	res := resultWithPnL(1000, -500, -250, -125, -62.5, -31.25)
	cfg := mcConfig()
	cfg.RuinDrawdown = 0.5

	mc, err := MonteCarlo(res, cfg)
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	if mc.RuinProbability != 1 {
		t.Errorf("ruin probability = %v, want 1", mc.RuinProbability)
	}
	if math.Abs(mc.WorstDrawdown-0.96875) > 1e-9 {
		t.Errorf("worst drawdown = %v, want 0.96875", mc.WorstDrawdown)
	}
	if math.Abs(mc.AvgDrawdown-0.96875) > 1e-9 {
		t.Errorf("avg drawdown = %v, want 0.96875", mc.AvgDrawdown)
	}
}

func TestMonteCarloDeterminism(t *testing.T) {
	res := resultWithPnL(1000, 100, -50, 200, -25, 80, 14, -90)

	first, err := MonteCarlo(res, mcConfig())
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	second, err := MonteCarlo(res, mcConfig())
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same seed produced different distributions")
	}

	reseeded := mcConfig()
	reseeded.Seed = 43
	third, err := MonteCarlo(res, reseeded)
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	if first.Mean == third.Mean && first.Std == third.Std {
		t.Fatal("different seeds produced identical distributions")
	}
}

func TestMonteCarloOnReplayResult(t *testing.T) {
	candles := candleSeries("BTCUSDT", vWave())
	res := mustRun(t, testBacktestConfig(), candles)
	if len(res.Trades) == 0 {
		t.Fatal("replay produced no trades")
	}

	cfg := mcConfig()
	cfg.MinSample = 1
	mc, err := MonteCarlo(res, cfg)
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	if mc.Sample != len(res.Trades) {
		t.Errorf("sample = %d, want %d trades", mc.Sample, len(res.Trades))
	}
	if mc.Min > mc.Percentiles[50] || mc.Percentiles[50] > mc.Max {
		t.Errorf("median %v outside [%v, %v]", mc.Percentiles[50], mc.Min, mc.Max)
	}
}
