package backtest

import (
	"fmt"
	"math/rand"
	"sort"
)

// mcPercentiles are the reported final-balance percentile ranks.
var mcPercentiles = []int{5, 25, 50, 75, 95}

// MonteCarlo bootstraps the realized trade outcomes of a deterministic run:
// each resample draws the per-trade returns with replacement and compounds
// them into a fresh equity path. The aggregate answers how fragile the
// replay's outcome is to trade ordering and selection. Reproducible for a
// given result and seed.
func MonteCarlo(res *Result, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	if cfg.Runs <= 0 {
		return nil, fmt.Errorf("monte carlo runs must be positive, got %d", cfg.Runs)
	}
	if cfg.RuinDrawdown <= 0 || cfg.RuinDrawdown > 1 {
		return nil, fmt.Errorf("ruin_drawdown must be in (0,1], got %v", cfg.RuinDrawdown)
	}
	returns := tradeReturns(res)
	if len(returns) < cfg.MinSample {
		return nil, fmt.Errorf("%w: %d trades, need %d",
			ErrInsufficientSample, len(returns), cfg.MinSample)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	n := len(returns)

	finals := make([]float64, cfg.Runs)
	drawdowns := make([]float64, cfg.Runs)
	ruined := 0
	path := make([]float64, n+1)

	for i := 0; i < cfg.Runs; i++ {
		equity := res.InitialBalance
		path[0] = equity
		for j := 0; j < n; j++ {
			equity *= 1 + returns[rng.Intn(n)]
			path[j+1] = equity
		}
		finals[i] = equity
		dd := maxDrawdown(path)
		drawdowns[i] = dd
		if dd >= cfg.RuinDrawdown || equity <= 0 {
			ruined++
		}
	}

	sorted := append([]float64(nil), finals...)
	sort.Float64s(sorted)

	mean := meanOf(finals)
	out := &MonteCarloResult{
		Runs:            cfg.Runs,
		Sample:          n,
		Percentiles:     make(map[int]float64, len(mcPercentiles)),
		Mean:            mean,
		Std:             stdOf(finals, mean),
		Min:             sorted[0],
		Max:             sorted[len(sorted)-1],
		AvgDrawdown:     meanOf(drawdowns),
		RuinProbability: float64(ruined) / float64(cfg.Runs),
	}
	for _, p := range mcPercentiles {
		out.Percentiles[p] = percentile(sorted, float64(p))
	}
	for _, dd := range drawdowns {
		if dd > out.WorstDrawdown {
			out.WorstDrawdown = dd
		}
	}
	return out, nil
}

// tradeReturns converts each realized trade into a fractional return on the
// equity in force when it settled, so resampled paths compound the way the
// original sequence did.
func tradeReturns(res *Result) []float64 {
	out := make([]float64, 0, len(res.Trades))
	equity := res.InitialBalance
	for _, tr := range res.Trades {
		if equity <= 0 {
			break
		}
		out = append(out, tr.PnL/equity)
		equity += tr.PnL
	}
	return out
}
