package db

import (
	"database/sql"
	"fmt"
)

// Native amounts are stored as decimal TEXT; they are uint64 and may not fit
// a signed SQLite INTEGER.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS portfolios (
    address TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    state TEXT NOT NULL,
    pct_a INTEGER NOT NULL,
    pct_b INTEGER NOT NULL,
    auto_rebalance INTEGER DEFAULT 0,
    sequence INTEGER DEFAULT 0,
    data TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_portfolios_owner ON portfolios(owner);

CREATE TABLE IF NOT EXISTS rebalance_events (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    portfolio TEXT NOT NULL,
    owner TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    worth_a TEXT NOT NULL,
    worth_b TEXT NOT NULL,
    worth_quote TEXT NOT NULL,
    pct_a INTEGER NOT NULL,
    pct_b INTEGER NOT NULL,
    orders_placed INTEGER DEFAULT 0,
    no_op INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_rebalance_events_owner ON rebalance_events(owner, sequence);

CREATE TABLE IF NOT EXISTS venue_orders (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    portfolio TEXT NOT NULL,
    market TEXT NOT NULL,
    symbol TEXT NOT NULL,
    order_id INTEGER DEFAULT 0,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    price_lots TEXT NOT NULL,
    base_lots TEXT NOT NULL,
    filled_lots TEXT DEFAULT '0',
    reason TEXT DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_venue_orders_market ON venue_orders(market, order_id);
CREATE INDEX IF NOT EXISTS idx_venue_orders_portfolio ON venue_orders(portfolio);

CREATE TABLE IF NOT EXISTS venue_fills (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    portfolio TEXT NOT NULL,
    market TEXT NOT NULL,
    symbol TEXT NOT NULL,
    order_id INTEGER DEFAULT 0,
    side TEXT NOT NULL,
    filled_base TEXT NOT NULL,
    filled_quote TEXT NOT NULL,
    fee TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_venue_fills_portfolio ON venue_fills(portfolio);

CREATE TABLE IF NOT EXISTS outbox_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    tx_id TEXT NOT NULL,
    topic TEXT NOT NULL,
    payload TEXT NOT NULL,
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
	if err := ensureColumn(d.DB, "portfolios", "auto_rebalance", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "venue_orders", "reason", "TEXT DEFAULT ''"); err != nil {
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
