package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
)

// ErrNotFound means no row matched the lookup.
var ErrNotFound = errors.New("record not found")

// Store is the typed query layer over the SQLite handle.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open handle; prefer Database.Queries.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ----------------------------------------
// Trade queries
// ----------------------------------------

// UpsertTrade writes a trade at its current lifecycle state, replacing any
// previous state of the same trade.
func (s *Store) UpsertTrade(ctx context.Context, t lifecycle.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, pair, direction, state, size, notional, signal_price,
			entry_price, exit_price, stop_price, target_price, entry_fee,
			exit_fee, pnl, exit_reason, confidence, created_at, opened_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			entry_price = excluded.entry_price,
			exit_price = excluded.exit_price,
			stop_price = excluded.stop_price,
			target_price = excluded.target_price,
			entry_fee = excluded.entry_fee,
			exit_fee = excluded.exit_fee,
			pnl = excluded.pnl,
			exit_reason = excluded.exit_reason,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at
	`, t.ID, t.Pair, string(t.Direction), string(t.State), t.Size, t.Notional,
		t.SignalPrice, t.EntryPrice, t.ExitPrice, t.StopPrice, t.Target,
		t.EntryFee, t.ExitFee, t.PnL, string(t.ExitReason), t.Confidence,
		t.CreatedAt.UTC(), nullTime(t.OpenedAt), nullTime(t.ClosedAt))
	if err != nil {
		return fmt.Errorf("upsert trade %s: %w", t.ID, err)
	}
	return nil
}

// GetTrade returns one trade by ID.
func (s *Store) GetTrade(ctx context.Context, id string) (lifecycle.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Trade{}, ErrNotFound
	}
	if err != nil {
		return lifecycle.Trade{}, fmt.Errorf("query trade %s: %w", id, err)
	}
	return t, nil
}

// ListActiveTrades returns trades still holding budget, oldest first.
func (s *Store) ListActiveTrades(ctx context.Context) ([]lifecycle.Trade, error) {
	states := []string{
		string(lifecycle.StatePendingEntry),
		string(lifecycle.StateOpen),
		string(lifecycle.StateClosing),
		string(lifecycle.StateStuck),
	}
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE state IN ('` + strings.Join(states, "','") + `')
		ORDER BY created_at, id`
	return s.listTrades(ctx, query)
}

// ListTrades pages through closed trades, most recent first.
func (s *Store) ListTrades(ctx context.Context, limit, offset int) ([]lifecycle.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE state = ?
		ORDER BY closed_at DESC, id
		LIMIT ? OFFSET ?`
	return s.listTrades(ctx, query, string(lifecycle.StateClosed), limit, offset)
}

func (s *Store) listTrades(ctx context.Context, query string, args ...any) ([]lifecycle.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []lifecycle.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Equity snapshot queries
// ----------------------------------------

// InsertEquitySnapshots writes a batch of snapshots in one transaction.
func (s *Store) InsertEquitySnapshots(ctx context.Context, snaps []EquitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO equity_snapshots (equity, peak, drawdown, reserved, open_trades, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, sn := range snaps {
		if _, err := stmt.ExecContext(ctx, sn.Equity, sn.Peak, sn.Drawdown,
			sn.Reserved, sn.OpenTrades, sn.TakenAt.UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot batch: %w", err)
	}
	return nil
}

// LatestEquitySnapshot returns the most recent snapshot.
func (s *Store) LatestEquitySnapshot(ctx context.Context) (EquitySnapshot, error) {
	var sn EquitySnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, equity, peak, drawdown, reserved, open_trades, taken_at
		FROM equity_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT 1
	`).Scan(&sn.ID, &sn.Equity, &sn.Peak, &sn.Drawdown, &sn.Reserved, &sn.OpenTrades, &sn.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EquitySnapshot{}, ErrNotFound
	}
	if err != nil {
		return EquitySnapshot{}, fmt.Errorf("query latest snapshot: %w", err)
	}
	sn.TakenAt = sn.TakenAt.UTC()
	return sn, nil
}

// ListEquitySnapshots returns snapshots between from and to, oldest first.
func (s *Store) ListEquitySnapshots(ctx context.Context, limit int) ([]EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, equity, peak, drawdown, reserved, open_trades, taken_at
		FROM equity_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []EquitySnapshot
	for rows.Next() {
		var sn EquitySnapshot
		if err := rows.Scan(&sn.ID, &sn.Equity, &sn.Peak, &sn.Drawdown,
			&sn.Reserved, &sn.OpenTrades, &sn.TakenAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.TakenAt = sn.TakenAt.UTC()
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// ----------------------------------------
// Backtest run queries
// ----------------------------------------

// InsertBacktestRun stores one simulation report.
func (s *Store) InsertBacktestRun(ctx context.Context, run BacktestRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (
			id, pair, timeframe, seed, candles, initial_balance, final_balance,
			total_return, sharpe, max_drawdown, win_rate, profit_factor,
			trade_count, report, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, run.ID, run.Pair, run.Timeframe, run.Seed, run.Candles,
		run.InitialBalance, run.FinalBalance, run.TotalReturn, run.Sharpe,
		run.MaxDrawdown, run.WinRate, run.ProfitFactor, run.TradeCount,
		run.Report, nullTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert backtest run %s: %w", run.ID, err)
	}
	return nil
}

// GetBacktestRun returns one stored report, including the JSON body.
func (s *Store) GetBacktestRun(ctx context.Context, id string) (BacktestRun, error) {
	var run BacktestRun
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pair, timeframe, seed, candles, initial_balance, final_balance,
		       total_return, sharpe, max_drawdown, win_rate, profit_factor,
		       trade_count, report, created_at
		FROM backtest_runs
		WHERE id = ?
	`, id).Scan(&run.ID, &run.Pair, &run.Timeframe, &run.Seed, &run.Candles,
		&run.InitialBalance, &run.FinalBalance, &run.TotalReturn, &run.Sharpe,
		&run.MaxDrawdown, &run.WinRate, &run.ProfitFactor, &run.TradeCount,
		&run.Report, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BacktestRun{}, ErrNotFound
	}
	if err != nil {
		return BacktestRun{}, fmt.Errorf("query backtest run %s: %w", id, err)
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return run, nil
}

// ListBacktestRuns returns recent runs without their JSON bodies.
func (s *Store) ListBacktestRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair, timeframe, seed, candles, initial_balance, final_balance,
		       total_return, sharpe, max_drawdown, win_rate, profit_factor,
		       trade_count, created_at
		FROM backtest_runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		var run BacktestRun
		if err := rows.Scan(&run.ID, &run.Pair, &run.Timeframe, &run.Seed,
			&run.Candles, &run.InitialBalance, &run.FinalBalance,
			&run.TotalReturn, &run.Sharpe, &run.MaxDrawdown, &run.WinRate,
			&run.ProfitFactor, &run.TradeCount, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		run.CreatedAt = run.CreatedAt.UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
