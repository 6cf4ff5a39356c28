// Package config layers the bot's settings: process environment for paths
// and addresses, a static YAML file for strategy parameters, and a runtime
// JSON store for everything the control API can mutate.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Env holds environment-driven settings: where things live and how the
// process talks to the world. Strategy parameters live in the YAML file.
type Env struct {
	// Port is the control API listen port.
	Port string

	// DBPath is the SQLite database location.
	DBPath string
	// ConfigPath is the static YAML file with strategy parameters.
	ConfigPath string
	// StatePath is the runtime JSON store mutated by the control API.
	StatePath string

	// JournalDir holds the trade write-ahead journal.
	JournalDir string

	LogLevel  string
	LogFormat string // "json" or "console"

	// UseMockFeed runs the synthetic candle generator instead of polling a
	// venue. The default is on; this bot ships with a paper venue only.
	UseMockFeed bool

	// Pairs overrides the YAML pair list when non-empty (comma separated).
	Pairs []string
	// PaperInitialBalance overrides the YAML paper balance when positive.
	PaperInitialBalance float64

	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int

	// MasterKeySet reports whether MASTER_ENCRYPTION_KEY is present. Without
	// it the runtime store refuses to accept exchange credentials.
	MasterKeySet bool
}

// LoadEnv reads environment variables (optionally via .env) into Env.
func LoadEnv() (*Env, error) {
	// Ignore error so the process still starts when .env is missing.
	_ = godotenv.Load()

	// Prefer DB_PATH, fall back to DATABASE_PATH.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/tradingbot.db")
	}

	return &Env{
		Port:        getEnv("PORT", "8080"),
		DBPath:      dbPath,
		ConfigPath:  getEnv("CONFIG_PATH", "./config.yaml"),
		StatePath:   getEnv("RUNTIME_STATE_PATH", "./data/runtime.json"),
		JournalDir:  getEnv("JOURNAL_DIR", "./data/journal"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
		UseMockFeed: getEnv("USE_MOCK_FEED", "true") == "true",

		Pairs:               splitAndTrim(getEnv("PAIRS", "")),
		PaperInitialBalance: getEnvFloat("PAPER_INITIAL_BALANCE", 0),
		ShutdownTimeoutSec:  getEnvInt("SHUTDOWN_TIMEOUT_SEC", 10),

		MasterKeySet: os.Getenv("MASTER_ENCRYPTION_KEY") != "",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
