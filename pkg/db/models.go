package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/backtest"
	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/internal/portfolio"
	"github.com/ahmedhalloub17/tradingbot/internal/signal"
)

// EquitySnapshot is one row of the portfolio equity history.
type EquitySnapshot struct {
	ID         int64     `json:"id"`
	Equity     float64   `json:"equity"`
	Peak       float64   `json:"peak"`
	Drawdown   float64   `json:"drawdown"`
	Reserved   float64   `json:"reserved"`
	OpenTrades int       `json:"open_trades"`
	TakenAt    time.Time `json:"taken_at"`
}

// SnapshotRow converts a live portfolio snapshot into its storage row.
func SnapshotRow(s portfolio.Snapshot) EquitySnapshot {
	return EquitySnapshot{
		Equity:     s.Equity,
		Peak:       s.Peak,
		Drawdown:   s.Drawdown,
		Reserved:   s.Reserved,
		OpenTrades: s.OpenTrades,
		TakenAt:    s.UpdatedAt,
	}
}

// BacktestRun is one persisted simulation report. Report carries the full
// result as JSON; the scalar columns exist for listing without decoding it.
type BacktestRun struct {
	ID             string    `json:"id"`
	Pair           string    `json:"pair"`
	Timeframe      string    `json:"timeframe"`
	Seed           int64     `json:"seed"`
	Candles        int       `json:"candles"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	TotalReturn    float64   `json:"total_return"`
	Sharpe         float64   `json:"sharpe"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor"`
	TradeCount     int       `json:"trade_count"`
	Report         string    `json:"report,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewBacktestRun flattens a simulation result into its storage row.
func NewBacktestRun(id, pair, timeframe string, res *backtest.Result) (BacktestRun, error) {
	report, err := json.Marshal(res)
	if err != nil {
		return BacktestRun{}, fmt.Errorf("encode backtest report: %w", err)
	}
	return BacktestRun{
		ID:             id,
		Pair:           pair,
		Timeframe:      timeframe,
		Seed:           res.Seed,
		Candles:        res.Candles,
		InitialBalance: res.InitialBalance,
		FinalBalance:   res.FinalBalance,
		TotalReturn:    res.TotalReturn,
		Sharpe:         res.Sharpe,
		MaxDrawdown:    res.MaxDrawdown,
		WinRate:        res.WinRate,
		ProfitFactor:   res.ProfitFactor,
		TradeCount:     len(res.Trades),
		Report:         string(report),
	}, nil
}

// Result decodes the stored report back into a simulation result.
func (r BacktestRun) Result() (*backtest.Result, error) {
	var res backtest.Result
	if err := json.Unmarshal([]byte(r.Report), &res); err != nil {
		return nil, fmt.Errorf("decode backtest report: %w", err)
	}
	return &res, nil
}

// nullTime stores zero times as NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// timeOf unwraps a nullable column into a possibly-zero time.
func timeOf(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}

const tradeColumns = `id, pair, direction, state, size, notional, signal_price,
       entry_price, exit_price, stop_price, target_price, entry_fee, exit_fee,
       pnl, COALESCE(exit_reason, ''), confidence, created_at, opened_at, closed_at`

// scanTrade reads one trades row in tradeColumns order.
func scanTrade(row interface{ Scan(...any) error }) (lifecycle.Trade, error) {
	var (
		t          lifecycle.Trade
		direction  string
		state      string
		exitReason string
		openedAt   sql.NullTime
		closedAt   sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Pair, &direction, &state, &t.Size, &t.Notional,
		&t.SignalPrice, &t.EntryPrice, &t.ExitPrice, &t.StopPrice, &t.Target,
		&t.EntryFee, &t.ExitFee, &t.PnL, &exitReason, &t.Confidence,
		&t.CreatedAt, &openedAt, &closedAt)
	if err != nil {
		return lifecycle.Trade{}, err
	}
	t.Direction = signal.Direction(direction)
	t.State = lifecycle.State(state)
	t.ExitReason = lifecycle.ExitReason(exitReason)
	t.CreatedAt = t.CreatedAt.UTC()
	t.OpenedAt = timeOf(openedAt)
	t.ClosedAt = timeOf(closedAt)
	return t, nil
}
