// Command backtest replays a historical candle file through the live
// decision pipeline, prints a performance report with Monte Carlo
// robustness estimates, and can persist the run for later comparison.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ahmedhalloub17/tradingbot/internal/backtest"
	"github.com/ahmedhalloub17/tradingbot/internal/market"
	"github.com/ahmedhalloub17/tradingbot/pkg/config"
	"github.com/ahmedhalloub17/tradingbot/pkg/db"
	"github.com/ahmedhalloub17/tradingbot/pkg/logger"
)

func main() {
	var (
		csvPath    = flag.String("csv", "", "candle file with time,open,high,low,close,volume columns")
		pair       = flag.String("pair", "BTCUSDT", "trading pair the candles belong to")
		configPath = flag.String("config", "./config.yaml", "bot configuration file")
		balance    = flag.Float64("balance", 0, "override the initial balance")
		seed       = flag.Int64("seed", 0, "override the simulation seed")
		timeframe  = flag.String("timeframe", "", "override the candle timeframe, e.g. 1h")
		runs       = flag.Int("runs", 0, "override the Monte Carlo run count")
		dbPath     = flag.String("db", "", "persist the run into this sqlite database")
		verbose    = flag.Bool("v", false, "log the simulation at debug level")
	)
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -csv <candles.csv> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	file, err := config.LoadFile(*configPath)
	if err != nil {
		fatal(err)
	}

	// The replay runs the live strategy configuration; the backtest section
	// carries execution parameters only.
	cfg := file.Backtest
	cfg.Indicators = file.Indicators
	cfg.Signal = file.Signal
	cfg.Risk = file.Risk
	cfg.Timeframe = file.Engine.Timeframe
	if *timeframe != "" {
		cfg.Timeframe = *timeframe
	}
	if *balance > 0 {
		cfg.InitialBalance = *balance
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	candles, err := market.LoadCSV(*csvPath, *pair)
	if err != nil {
		fatal(err)
	}
	series, err := market.NewSeries(*pair, candles)
	if err != nil {
		fatal(err)
	}

	sim, err := backtest.NewSimulator(cfg, log)
	if err != nil {
		fatal(err)
	}
	res, err := sim.Run(series)
	if err != nil {
		fatal(err)
	}
	printResult(series.Pair(), cfg.Timeframe, res)

	mcCfg := backtest.DefaultMonteCarloConfig()
	mcCfg.Seed = cfg.Seed
	mcCfg.RuinDrawdown = cfg.Risk.MaxDrawdown
	if *runs > 0 {
		mcCfg.Runs = *runs
	}
	mc, err := backtest.MonteCarlo(res, mcCfg)
	switch {
	case errors.Is(err, backtest.ErrInsufficientSample):
		fmt.Printf("\nMonte Carlo skipped: %v\n", err)
	case err != nil:
		fatal(err)
	default:
		printMonteCarlo(mc)
	}

	if *dbPath != "" {
		if err := persistRun(*dbPath, series.Pair(), cfg.Timeframe, res); err != nil {
			fatal(err)
		}
	}
}

func printResult(pair, timeframe string, res *backtest.Result) {
	fmt.Printf("Backtest %s %s: %d candles, %s to %s, seed %d\n\n",
		pair, timeframe, res.Candles,
		res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"), res.Seed)
	fmt.Printf("  %-18s %12.2f\n", "initial balance", res.InitialBalance)
	fmt.Printf("  %-18s %12.2f\n", "final balance", res.FinalBalance)
	fmt.Printf("  %-18s %11.2f%%\n", "total return", res.TotalReturn*100)
	fmt.Printf("  %-18s %12.2f\n", "sharpe", res.Sharpe)
	fmt.Printf("  %-18s %11.2f%%\n", "max drawdown", res.MaxDrawdown*100)
	fmt.Printf("  %-18s %12d\n", "trades", len(res.Trades))
	fmt.Printf("  %-18s %11.1f%%\n", "win rate", res.WinRate*100)
	fmt.Printf("  %-18s %12.2f\n", "profit factor", res.ProfitFactor)
}

func printMonteCarlo(mc *backtest.MonteCarloResult) {
	fmt.Printf("\nMonte Carlo: %d runs over %d trades\n\n", mc.Runs, mc.Sample)
	ranks := make([]int, 0, len(mc.Percentiles))
	for p := range mc.Percentiles {
		ranks = append(ranks, p)
	}
	sort.Ints(ranks)
	for _, p := range ranks {
		fmt.Printf("  %-18s %12.2f\n", fmt.Sprintf("p%d final balance", p), mc.Percentiles[p])
	}
	fmt.Printf("  %-18s %12.2f\n", "mean", mc.Mean)
	fmt.Printf("  %-18s %12.2f\n", "std", mc.Std)
	fmt.Printf("  %-18s %12.2f\n", "min", mc.Min)
	fmt.Printf("  %-18s %12.2f\n", "max", mc.Max)
	fmt.Printf("  %-18s %11.2f%%\n", "avg drawdown", mc.AvgDrawdown*100)
	fmt.Printf("  %-18s %11.2f%%\n", "worst drawdown", mc.WorstDrawdown*100)
	fmt.Printf("  %-18s %11.2f%%\n", "ruin probability", mc.RuinProbability*100)
}

func persistRun(path, pair, timeframe string, res *backtest.Result) error {
	database, err := db.New(path)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}

	run, err := db.NewBacktestRun(uuid.NewString(), pair, timeframe, res)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.Queries().InsertBacktestRun(ctx, run); err != nil {
		return err
	}
	fmt.Printf("\nrun %s persisted to %s\n", run.ID, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
