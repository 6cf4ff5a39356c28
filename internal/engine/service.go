// Package engine composes the signal pipeline, risk gate and trade
// lifecycle behind one Service interface. The API layer interacts with the
// bot only through this interface.
package engine

import (
	"context"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/risk"
)

// Service defines the operations exposed to the control layer.
type Service interface {
	// Start enables trade admissions. Idempotent.
	Start(ctx context.Context) error
	// Stop halts new admissions; live trades stay monitored and closable.
	Stop(ctx context.Context) error
	// Status returns the operator view of the bot.
	Status(ctx context.Context) Status

	// ActiveTrades lists live trades in a stable order.
	ActiveTrades(ctx context.Context) []lifecycle.Trade
	// TradeHistory pages through closed trades, newest first.
	TradeHistory(ctx context.Context, limit, offset int) ([]lifecycle.Trade, error)
	// CloseTrade manually closes a live trade.
	CloseTrade(ctx context.Context, tradeID string) error

	// Balance returns the portfolio snapshot with unrealized PnL.
	Balance(ctx context.Context) (BalanceInfo, error)
	// ResetRisk closes the drawdown circuit and rebases the equity peak.
	ResetRisk(ctx context.Context) (portfolio.Snapshot, error)
	// RiskConfig returns the admission parameters currently in force.
	RiskConfig(ctx context.Context) risk.Config
	// SetRiskConfig swaps the admission parameters after validation. Live
	// trades keep the stops they were admitted with.
	SetRiskConfig(ctx context.Context, cfg risk.Config) error

	// Pairs returns the configured trading pairs.
	Pairs(ctx context.Context) []string
	// SetPairs replaces the traded pair set.
	SetPairs(ctx context.Context, pairs []string) error
}

// HistoryStore reads persisted trades for reporting.
type HistoryStore interface {
	ListTrades(ctx context.Context, limit, offset int) ([]lifecycle.Trade, error)
}

// Status is the operator view of the engine.
type Status struct {
	Running      bool               `json:"running"`
	StartedAt    time.Time          `json:"started_at"`
	ServerTime   time.Time          `json:"server_time"`
	Pairs        []string           `json:"pairs"`
	Timeframe    string             `json:"timeframe"`
	ActiveTrades int                `json:"active_trades"`
	Portfolio    portfolio.Snapshot `json:"portfolio"`
	Risk         risk.Status        `json:"risk"`
	EventsLost   uint64             `json:"events_lost"`
}

// BalanceInfo is the portfolio snapshot extended with mark-to-market PnL.
type BalanceInfo struct {
	Equity        float64 `json:"equity"`
	Available     float64 `json:"available"`
	Reserved      float64 `json:"reserved"`
	Peak          float64 `json:"peak"`
	Drawdown      float64 `json:"drawdown"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	OpenTrades    int     `json:"open_trades"`
}
