package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/market"
)

// seed_candles writes a deterministic random-walk candle CSV in the format
// the backtester loads: time,open,high,low,close,volume with epoch
// millisecond timestamps.
//
// Usage:
//
//	go run ./scripts/seed_candles -out candles.csv -n 2000 -seed 7
//	go run ./cmd/backtest -csv candles.csv
func main() {
	var (
		out   = flag.String("out", "candles.csv", "output file")
		n     = flag.Int("n", 1000, "number of candles")
		start = flag.Float64("start", 30000, "starting price")
		step  = flag.Float64("step", 0.002, "max fractional drift per candle")
		seed  = flag.Int64("seed", 1, "walk seed")
		tf    = flag.String("timeframe", "1h", "candle timeframe")
		from  = flag.String("from", "2024-01-01", "first candle date (YYYY-MM-DD)")
	)
	flag.Parse()

	interval, err := market.ParseTimeframe(*tf)
	if err != nil {
		fatal(err)
	}
	begin, err := time.Parse("2006-01-02", *from)
	if err != nil {
		fatal(fmt.Errorf("parse -from: %w", err))
	}

	f, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		fatal(err)
	}

	rng := rand.New(rand.NewSource(*seed))
	price := *start
	for i := 0; i < *n; i++ {
		open := price
		drift := (rng.Float64()*2 - 1) * *step
		price = open * (1 + drift)
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		high *= 1 + rng.Float64()**step/2
		low *= 1 - rng.Float64()**step/2

		ts := begin.Add(time.Duration(i) * interval).UnixMilli()
		rec := []string{
			strconv.FormatInt(ts, 10),
			formatPrice(open),
			formatPrice(high),
			formatPrice(low),
			formatPrice(price),
			formatPrice(100 + rng.Float64()*50),
		}
		if err := w.Write(rec); err != nil {
			fatal(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fatal(err)
	}

	fmt.Printf("wrote %d %s candles to %s (seed %d)\n", *n, *tf, *out, *seed)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
