// Command tradingbot runs the paper-trading daemon: a market data feed
// drives the indicator and signal pipeline, approved entries are executed
// against the simulated venue, and the control API exposes the whole thing
// to the dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/api"
	"github.com/ahmedhalloub17/tradingbot/internal/engine"
	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/exchange"
	"github.com/ahmedhalloub17/tradingbot/internal/indicators"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/market"
	"github.com/ahmedhalloub17/tradingbot/internal/monitor"
	"github.com/ahmedhalloub17/tradingbot/internal/persistence"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/reconciliation"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	tradesignal "github.com/ahmedhalloub17/tradingbot/internal/signal"
	"github.com/ahmedhalloub17/tradingbot/pkg/cache"
	"github.com/ahmedhalloub17/tradingbot/pkg/config"
	"github.com/ahmedhalloub17/tradingbot/pkg/crypto"
	"github.com/ahmedhalloub17/tradingbot/pkg/db"
	"github.com/ahmedhalloub17/tradingbot/pkg/logger"
)

// feed is the lifecycle shared by the candle sources.
type feed interface {
	Start(ctx context.Context) error
	Stop()
}

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load environment: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(env.LogLevel, env.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	file, err := config.LoadFile(env.ConfigPath)
	if err != nil {
		log.Fatal("load configuration", zap.Error(err))
	}
	if len(env.Pairs) > 0 {
		file.Engine.Pairs = env.Pairs
	}
	if env.PaperInitialBalance > 0 {
		file.Paper.InitialBalance = env.PaperInitialBalance
	}

	// Credential encryption is optional: without the master key the bot
	// still paper-trades, but the credential endpoints refuse writes.
	var keys *crypto.KeyManager
	if env.MasterKeySet {
		keys, err = crypto.NewKeyManager()
		if err != nil {
			log.Fatal("load encryption keys", zap.Error(err))
		}
	} else {
		log.Warn("MASTER_ENCRYPTION_KEY not set, credential storage disabled")
	}

	runtime, err := config.NewStore(env.StatePath, keys)
	if err != nil {
		log.Fatal("open runtime store", zap.Error(err))
	}
	// Operator state from the previous run wins over the YAML.
	if pairs := runtime.Pairs(); len(pairs) > 0 {
		file.Engine.Pairs = pairs
	}
	if override := runtime.RiskOverride(); override != nil {
		file.Risk = *override
	}

	log.Info("starting trading bot",
		zap.String("port", env.Port),
		zap.Strings("pairs", file.Engine.Pairs),
		zap.String("timeframe", file.Engine.Timeframe),
		zap.Bool("mock_feed", env.UseMockFeed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(env.DBPath)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal("apply migrations", zap.Error(err))
	}
	store := database.Queries()

	prices := cache.NewPriceCache()
	paper := exchange.NewPaperClient(exchange.PaperConfig{
		InitialBalance: file.Paper.InitialBalance,
		FeeBps:         file.Paper.FeeBps,
		SlippageBps:    file.Paper.SlippageBps,
		LatencyMinMs:   file.Paper.LatencyMinMs,
		LatencyMaxMs:   file.Paper.LatencyMaxMs,
		FailRate:       file.Paper.FailRate,
		RequestsPerSec: file.Paper.RequestsPerSec,
		MaxMarkAge:     file.Paper.MaxMarkAge,
	}, prices, log)

	port, err := portfolio.NewState(file.Paper.InitialBalance, log)
	if err != nil {
		log.Fatal("init portfolio", zap.Error(err))
	}

	riskMgr, err := risk.NewManager(file.Risk, log)
	if err != nil {
		log.Fatal("init risk manager", zap.Error(err))
	}
	tracker := risk.NewStopTracker(file.Risk.TrailingEnabled, file.Risk.TrailingLock)

	// Trade lifecycle, journal-backed so a crash cannot double-submit.
	journal, err := lifecycle.NewJournal(env.JournalDir, log)
	if err != nil {
		log.Fatal("open trade journal", zap.Error(err))
	}
	trades, err := lifecycle.NewManager(file.Lifecycle, paper, port, tracker, journal, store, bus, log)
	if err != nil {
		log.Fatal("init lifecycle manager", zap.Error(err))
	}
	recovered, err := trades.Recover(ctx, time.Now())
	if err != nil {
		log.Fatal("recover journaled trades", zap.Error(err))
	}
	if recovered > 0 {
		log.Info("recovered live trades from journal", zap.Int("count", recovered))
	}
	recon, err := reconciliation.NewService(trades, store, log)
	if err != nil {
		log.Fatal("init reconciliation", zap.Error(err))
	}
	if _, err := recon.Reconcile(ctx, time.Now()); err != nil {
		log.Warn("trade store reconciliation failed", zap.Error(err))
	}

	// Monitoring
	metrics := monitor.NewMetrics()
	watcher, err := monitor.NewWatcher(bus, metrics, riskMgr, monitor.LogSink{Log: log}, log)
	if err != nil {
		log.Fatal("init monitor", zap.Error(err))
	}
	recorder, err := persistence.NewRecorder(store, bus, persistence.Config{
		MaxBatch:      file.Recorder.MaxBatch,
		FlushInterval: file.Recorder.FlushInterval,
	}, log)
	if err != nil {
		log.Fatal("init equity recorder", zap.Error(err))
	}

	// Engine service
	bot, err := engine.NewImpl(engine.Config{
		Pairs:      file.Engine.Pairs,
		Timeframe:  file.Engine.Timeframe,
		Indicators: indicators.NewEngine(file.Indicators),
		Evaluator:  tradesignal.NewAggregator(file.Signal),
		Risk:       riskMgr,
		Portfolio:  port,
		Lifecycle:  trades,
		Prices:     prices,
		Bus:        bus,
		History:    store,
		Metrics:    metrics,
		Log:        log,
	})
	if err != nil {
		log.Fatal("init engine", zap.Error(err))
	}

	var wg sync.WaitGroup
	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("background service exited", zap.String("service", name), zap.Error(err))
			}
		}()
	}
	launch("engine", bot.Run)
	launch("monitor", watcher.Run)
	launch("recorder", recorder.Run)

	// Market data, launched after the engine loop so its subscription is live.
	var src feed
	if env.UseMockFeed {
		src = &market.MockFeed{
			Bus:        bus,
			Cache:      prices,
			Pairs:      file.Engine.Pairs,
			StartPrice: file.Mock.StartPrice,
			Step:       file.Mock.Step,
			Interval:   file.Mock.Interval,
			Seed:       file.Mock.Seed,
			Log:        log,
		}
	} else {
		// The poll feed needs a history source on the venue client; until a
		// live adapter is wired it will log failed fetches every boundary.
		src = &market.PollFeed{
			Fetch:     paper.FetchCandles,
			Bus:       bus,
			Cache:     prices,
			Pairs:     file.Engine.Pairs,
			Timeframe: file.Engine.Timeframe,
			Log:       log,
		}
	}
	if err := src.Start(ctx); err != nil {
		log.Fatal("start market feed", zap.Error(err))
	}

	// Control API
	srv, err := api.NewServer(bot, runtime, metrics, bus, store, file.Server, log)
	if err != nil {
		log.Fatal("init api server", zap.Error(err))
	}
	httpSrv := &http.Server{
		Addr:              ":" + env.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	apiErr := make(chan error, 1)
	go func() {
		log.Info("control api listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", s.String()))
	case err := <-apiErr:
		log.Error("api server failed", zap.Error(err))
	}

	// Graceful shutdown: stop taking requests, halt admissions, then tear
	// down the pipeline back to front.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(),
		time.Duration(env.ShutdownTimeoutSec)*time.Second)
	defer cancelShutdown()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown incomplete", zap.Error(err))
	}
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Warn("engine stop failed", zap.Error(err))
	}
	src.Stop()
	cancel()
	wg.Wait()

	if err := journal.Close(); err != nil {
		log.Warn("close journal", zap.Error(err))
	}
	log.Info("shutdown complete")
}
