package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahmedhalloub17/tradingbot/internal/backtest"
	"github.com/ahmedhalloub17/tradingbot/internal/indicators"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

// ErrInvalid marks a configuration the process must not start with.
var ErrInvalid = errors.New("invalid configuration")

// Engine holds the evaluation loop settings.
type Engine struct {
	Pairs     []string `yaml:"pairs"`
	Timeframe string   `yaml:"timeframe"`
}

// Paper holds the simulated venue settings.
type Paper struct {
	InitialBalance float64       `yaml:"initial_balance"`
	FeeBps         float64       `yaml:"fee_bps"`
	SlippageBps    float64       `yaml:"slippage_bps"`
	LatencyMinMs   int           `yaml:"latency_min_ms"`
	LatencyMaxMs   int           `yaml:"latency_max_ms"`
	FailRate       float64       `yaml:"fail_rate"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	MaxMarkAge     time.Duration `yaml:"max_mark_age"`
}

// Server holds the control API settings.
type Server struct {
	// RateLimitRPS caps request throughput per client; Burst is the bucket
	// size. Zero RPS disables limiting.
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Recorder holds the equity snapshot batching settings.
type Recorder struct {
	MaxBatch      int           `yaml:"max_batch"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Mock holds the synthetic feed settings.
type Mock struct {
	StartPrice float64       `yaml:"start_price"`
	Step       float64       `yaml:"step"`
	Interval   time.Duration `yaml:"interval"`
	Seed       int64         `yaml:"seed"`
}

// File is the static YAML configuration: strategy parameters and component
// tuning. Paths and addresses come from the environment instead.
type File struct {
	Engine     Engine            `yaml:"engine"`
	Indicators indicators.Config `yaml:"indicators"`
	Signal     signal.Config     `yaml:"signal"`
	Risk       risk.Config       `yaml:"risk"`
	Lifecycle  lifecycle.Config  `yaml:"lifecycle"`
	Paper      Paper             `yaml:"paper"`
	Backtest   backtest.Config   `yaml:"backtest"`
	Server     Server            `yaml:"server"`
	Recorder   Recorder          `yaml:"recorder"`
	Mock       Mock              `yaml:"mock"`
}

// Defaults returns the stock configuration the bot runs with when the YAML
// file is absent.
func Defaults() File {
	return File{
		Engine: Engine{
			Pairs:     []string{"BTCUSDT", "ETHUSDT"},
			Timeframe: "1h",
		},
		Indicators: indicators.DefaultConfig(),
		Signal:     signal.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Lifecycle:  lifecycle.DefaultConfig(),
		Paper: Paper{
			InitialBalance: 10000,
			FeeBps:         10,
			SlippageBps:    2,
		},
		Backtest: backtest.DefaultConfig(),
		Server: Server{
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			RequestTimeout: 30 * time.Second,
		},
		Recorder: Recorder{
			MaxBatch:      50,
			FlushInterval: 5 * time.Second,
		},
		Mock: Mock{
			StartPrice: 30000,
			Step:       0.002,
			Interval:   time.Second,
		},
	}
}

// LoadFile reads the YAML file over the defaults. A missing file is not an
// error; the defaults apply.
func LoadFile(path string) (File, error) {
	f := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate reports the first offending field wrapped in ErrInvalid.
func (f File) Validate() error {
	if len(f.Engine.Pairs) == 0 {
		return fmt.Errorf("%w: engine.pairs is empty", ErrInvalid)
	}
	if f.Engine.Timeframe == "" {
		return fmt.Errorf("%w: engine.timeframe is empty", ErrInvalid)
	}
	if err := f.Indicators.Validate(); err != nil {
		return fmt.Errorf("%w: indicators: %v", ErrInvalid, err)
	}
	if err := f.Signal.Validate(); err != nil {
		return fmt.Errorf("%w: signal: %v", ErrInvalid, err)
	}
	if err := f.Risk.Validate(); err != nil {
		return fmt.Errorf("%w: risk: %v", ErrInvalid, err)
	}
	if err := f.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("%w: lifecycle: %v", ErrInvalid, err)
	}
	if f.Paper.InitialBalance <= 0 {
		return fmt.Errorf("%w: paper.initial_balance must be positive, got %v", ErrInvalid, f.Paper.InitialBalance)
	}
	if f.Paper.FeeBps < 0 || f.Paper.SlippageBps < 0 {
		return fmt.Errorf("%w: paper fees and slippage must not be negative", ErrInvalid)
	}
	if f.Paper.MaxMarkAge < 0 {
		return fmt.Errorf("%w: paper.max_mark_age must not be negative", ErrInvalid)
	}
	if err := f.Backtest.Validate(); err != nil {
		return fmt.Errorf("%w: backtest: %v", ErrInvalid, err)
	}
	if f.Server.RateLimitRPS < 0 || f.Server.RateLimitBurst < 0 {
		return fmt.Errorf("%w: server rate limit must not be negative", ErrInvalid)
	}
	if f.Server.RequestTimeout < 0 {
		return fmt.Errorf("%w: server.request_timeout must not be negative", ErrInvalid)
	}
	return nil
}
