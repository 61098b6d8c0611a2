package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS straddle_configs (
    id TEXT PRIMARY KEY,
    strategy_name TEXT NOT NULL,
    exchange TEXT NOT NULL,
    token TEXT NOT NULL,
    side TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    exit_status TEXT NOT NULL DEFAULT 'ACTIVE',
    data TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_straddle_configs_signal
    ON straddle_configs(strategy_name, exchange, token, side);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    strategy_id TEXT,
    venue_order_id TEXT,
    exchange TEXT NOT NULL,
    token TEXT NOT NULL,
    trading_symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    product TEXT NOT NULL,
    price_type TEXT NOT NULL,
    price REAL DEFAULT 0,
    qty INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS venue_orders (
    order_id TEXT NOT NULL,
    exch_order_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    exchange TEXT NOT NULL,
    token TEXT NOT NULL,
    trading_symbol TEXT,
    side TEXT,
    qty INTEGER DEFAULT 0,
    filled_qty INTEGER DEFAULT 0,
    price REAL DEFAULT 0,
    avg_price REAL DEFAULT 0,
    reject_reason TEXT,
    order_time DATETIME,
    exch_time DATETIME,
    trade_date TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (order_id, exch_order_id)
);

CREATE TABLE IF NOT EXISTS venue_trades (
    order_id TEXT NOT NULL,
    exch_order_id TEXT NOT NULL DEFAULT '',
    fill_id TEXT NOT NULL DEFAULT '',
    exchange TEXT NOT NULL,
    token TEXT NOT NULL,
    side TEXT NOT NULL,
    filled_qty INTEGER NOT NULL,
    filled_price REAL NOT NULL,
    exch_time DATETIME,
    trade_date TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (order_id, exch_order_id, fill_id)
);

CREATE TABLE IF NOT EXISTS venue_positions (
    exchange TEXT NOT NULL,
    token TEXT NOT NULL,
    trading_symbol TEXT,
    net_qty INTEGER NOT NULL,
    lot_size INTEGER DEFAULT 0,
    avg_price REAL DEFAULT 0,
    product TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (exchange, token)
);

CREATE TABLE IF NOT EXISTS candles (
    exchange TEXT NOT NULL,
    token TEXT NOT NULL,
    ts INTEGER NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL DEFAULT 0,
    PRIMARY KEY (exchange, token, ts)
);
`

// ApplyMigrations creates tables if they do not exist and backfills newer columns.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Exit bookkeeping added after the first release.
	if err := ensureColumn(d.DB, "straddle_configs", "exit_reason", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "remarks", "TEXT DEFAULT ''"); err != nil {
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
	cols, err := tableColumns(db, table)
	if err != nil {
		return false, err
	}
	return cols[column], nil
}

// TableColumns returns the column names of table. A missing table yields an empty set.
func TableColumns(d *Database, table string) (map[string]bool, error) {
	return tableColumns(d.DB, table)
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
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
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
