package backtest

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/market"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
)

// testRiskConfig keeps the sizing arithmetic round.
func testRiskConfig() risk.Config {
	return risk.Config{
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

func testBacktestConfig() Config {
	cfg := DefaultConfig()
	cfg.Risk = testRiskConfig()
	cfg.Seed = 7
	return cfg
}

// candleSeries builds hourly candles from a close sequence, with half a
// point of wick beyond the body on both sides.
func candleSeries(pair string, closes []float64) []market.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	prev := closes[0]
	for i, cl := range closes {
		open := prev
		out[i] = market.Candle{
			Pair:     pair,
			OpenTime: base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:     open,
			High:     math.Max(open, cl) + 0.5,
			Low:      math.Min(open, cl) - 0.5,
			Close:    cl,
			Volume:   100,
		}
		prev = cl
	}
	return out
}

// vWave drifts sideways through indicator warmup, rallies hard, then gives
// it all back. The rally and decline are strong enough to clear the ADX
// gate, so the run realizes trades in both directions.
func vWave() []float64 {
	closes := make([]float64, 0, 130)
	price := 100.0
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			price += 0.3
		} else {
			price -= 0.3
		}
		closes = append(closes, price)
	}
	for i := 0; i < 45; i++ {
		price += 2
		closes = append(closes, price)
	}
	for i := 0; i < 45; i++ {
		price -= 2
		closes = append(closes, price)
	}
	return closes
}

func mustSeries(t *testing.T, candles []market.Candle) *market.Series {
	t.Helper()
	series, err := market.NewSeries(candles[0].Pair, candles)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return series
}

func mustRun(t *testing.T, cfg Config, candles []market.Candle) *Result {
	t.Helper()
	sim, err := NewSimulator(cfg, nil)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	res, err := sim.Run(mustSeries(t, candles))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestSimulatorRejectsShortSeries(t *testing.T) {
	sim, err := NewSimulator(testBacktestConfig(), nil)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	closes := make([]float64, 29)
	for i := range closes {
		closes[i] = 100
	}
	_, err = sim.Run(mustSeries(t, candleSeries("BTCUSDT", closes)))
	if !errors.Is(err, ErrInsufficientCandles) {
		t.Fatalf("error = %v, want ErrInsufficientCandles", err)
	}
}

func TestSimulatorDeterminism(t *testing.T) {
	series := mustSeries(t, candleSeries("BTCUSDT", vWave()))
	sim, err := NewSimulator(testBacktestConfig(), nil)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}

	first, err := sim.Run(series)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	// The second run reuses the exhausted series; Run must rewind it.
	second, err := sim.Run(series)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Trades) == 0 {
		t.Fatal("replay produced no trades; series should trade")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical config and seed produced different results")
	}
}

func TestSimulatorSeedChangesSlippage(t *testing.T) {
	candles := candleSeries("BTCUSDT", vWave())

	cfg := testBacktestConfig()
	first := mustRun(t, cfg, candles)
	cfg.Seed = 8
	second := mustRun(t, cfg, candles)

	if len(first.Trades) == 0 || len(second.Trades) == 0 {
		t.Fatal("both runs should trade")
	}
	if first.Trades[0].EntryPrice == second.Trades[0].EntryPrice {
		t.Fatal("different seeds produced identical entry slippage")
	}
}

func TestSimulatorAccountingInvariants(t *testing.T) {
	candles := candleSeries("BTCUSDT", vWave())
	res := mustRun(t, testBacktestConfig(), candles)

	var sum float64
	for i, tr := range res.Trades {
		if tr.State != lifecycle.StateClosed {
			t.Errorf("trade %d state = %s, want closed", i, tr.State)
		}
		if tr.EntryPrice <= 0 || tr.ExitPrice <= 0 || tr.Size <= 0 {
			t.Errorf("trade %d has empty fills: %+v", i, tr)
		}
		switch tr.ExitReason {
		case lifecycle.ExitStopLoss:
			if tr.ExitPrice != tr.StopPrice {
				t.Errorf("trade %d stop exit at %v, stop %v", i, tr.ExitPrice, tr.StopPrice)
			}
		case lifecycle.ExitTakeProfit:
			if tr.ExitPrice != tr.Target {
				t.Errorf("trade %d target exit at %v, target %v", i, tr.ExitPrice, tr.Target)
			}
		case lifecycle.ExitReversal, lifecycle.ExitMaxHold, lifecycle.ExitEndOfData:
		default:
			t.Errorf("trade %d unexpected exit reason %q", i, tr.ExitReason)
		}
		if i > 0 && res.Trades[i].OpenedAt.Before(res.Trades[i-1].ClosedAt) {
			t.Errorf("trade %d overlaps its predecessor", i)
		}
		sum += tr.PnL
	}

	if diff := math.Abs(res.FinalBalance - res.InitialBalance - sum); diff > 1e-9 {
		t.Errorf("final balance drifts from settled PnL by %v", diff)
	}
	if last := res.EquityCurve[len(res.EquityCurve)-1]; last.Equity != res.FinalBalance {
		t.Errorf("curve end %v != final balance %v", last.Equity, res.FinalBalance)
	}
	if res.MaxDrawdown < 0 || res.MaxDrawdown > 1 {
		t.Errorf("max drawdown %v out of range", res.MaxDrawdown)
	}
	if res.WinRate < 0 || res.WinRate > 1 {
		t.Errorf("win rate %v out of range", res.WinRate)
	}
	if res.Candles != len(candles) {
		t.Errorf("candles = %d, want %d", res.Candles, len(candles))
	}
}

func TestSimulatorDrainsOpenPositionAtEnd(t *testing.T) {
	// Warmup then a monotonic rally, with an unreachable target and no
	// trailing: the first long stays open until the series ends.
	closes := make([]float64, 0, 80)
	price := 100.0
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			price += 0.3
		} else {
			price -= 0.3
		}
		closes = append(closes, price)
	}
	for i := 0; i < 40; i++ {
		price += 2
		closes = append(closes, price)
	}

	cfg := testBacktestConfig()
	cfg.Risk.TakeProfitPct = 5.0
	cfg.Risk.TrailingEnabled = false

	candles := candleSeries("BTCUSDT", closes)
	res := mustRun(t, cfg, candles)

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want exactly 1 held position", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != lifecycle.ExitEndOfData {
		t.Fatalf("exit reason = %q, want %q", tr.ExitReason, lifecycle.ExitEndOfData)
	}
	if tr.ExitPrice != closes[len(closes)-1] {
		t.Fatalf("exit price = %v, want last close %v", tr.ExitPrice, closes[len(closes)-1])
	}
	if tr.PnL <= 0 {
		t.Fatalf("PnL = %v, want a gain from riding the rally", tr.PnL)
	}
}

func TestSimulatorZeroSlippageFillsAtClose(t *testing.T) {
	cfg := testBacktestConfig()
	cfg.SlippageBps = 0

	candles := candleSeries("BTCUSDT", vWave())
	res := mustRun(t, cfg, candles)

	if len(res.Trades) == 0 {
		t.Fatal("replay produced no trades")
	}
	for i, tr := range res.Trades {
		if tr.EntryPrice != tr.SignalPrice {
			t.Errorf("trade %d entry %v != signal close %v without slippage",
				i, tr.EntryPrice, tr.SignalPrice)
		}
	}
}
