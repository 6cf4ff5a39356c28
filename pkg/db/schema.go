package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    pair TEXT NOT NULL,
    direction TEXT NOT NULL,
    state TEXT NOT NULL,
    size REAL NOT NULL,
    notional REAL NOT NULL,
    signal_price REAL DEFAULT 0,
    entry_price REAL DEFAULT 0,
    exit_price REAL DEFAULT 0,
    stop_price REAL DEFAULT 0,
    target_price REAL DEFAULT 0,
    entry_fee REAL DEFAULT 0,
    exit_fee REAL DEFAULT 0,
    pnl REAL DEFAULT 0,
    exit_reason TEXT DEFAULT '',
    confidence REAL DEFAULT 0,
    created_at DATETIME NOT NULL,
    opened_at DATETIME,
    closed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_trades_state ON trades(state);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);

CREATE TABLE IF NOT EXISTS equity_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    equity REAL NOT NULL,
    peak REAL NOT NULL,
    drawdown REAL DEFAULT 0,
    reserved REAL DEFAULT 0,
    open_trades INTEGER DEFAULT 0,
    taken_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_taken_at ON equity_snapshots(taken_at);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id TEXT PRIMARY KEY,
    pair TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    seed INTEGER NOT NULL,
    candles INTEGER NOT NULL,
    initial_balance REAL NOT NULL,
    final_balance REAL NOT NULL,
    total_return REAL DEFAULT 0,
    sharpe REAL DEFAULT 0,
    max_drawdown REAL DEFAULT 0,
    win_rate REAL DEFAULT 0,
    profit_factor REAL DEFAULT 0,
    trade_count INTEGER DEFAULT 0,
    report TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "trades", "confidence", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "notional", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "backtest_runs", "trade_count", "INTEGER DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
