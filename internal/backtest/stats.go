package backtest

import (
	"math"

	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
)

// returnsOf converts an equity series into simple per-period returns.
func returnsOf(equities []float64) []float64 {
	if len(equities) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equities)-1)
	for i := 1; i < len(equities); i++ {
		prev := equities[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (equities[i]-prev)/prev)
	}
	return out
}

// sharpeRatio annualizes mean/std of the per-period returns with the
// conventional sqrt(252) factor. Zero when the series is too short or flat.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	std := stdOf(returns, mean)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}

// maxDrawdown returns the largest peak-relative equity decline as a
// fraction.
func maxDrawdown(equities []float64) float64 {
	var peak, worst float64
	for _, eq := range equities {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// winRate is the fraction of closed trades with positive PnL.
func winRate(trades []lifecycle.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, tr := range trades {
		if tr.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// profitFactor is gross profit over gross loss, 0 when there are no losing
// trades so the report stays JSON-encodable.
func profitFactor(trades []lifecycle.Trade) float64 {
	var grossWin, grossLoss float64
	for _, tr := range trades {
		if tr.PnL > 0 {
			grossWin += tr.PnL
		} else {
			grossLoss -= tr.PnL
		}
	}
	if grossLoss == 0 {
		return 0
	}
	return grossWin / grossLoss
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdOf is the population standard deviation around a precomputed mean.
func stdOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// percentile interpolates linearly between order statistics, matching the
// numpy default.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
