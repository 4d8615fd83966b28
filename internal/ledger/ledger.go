// Package ledger is the append-only persistence layer of the execution core.
//
// It owns the SQLite database holding Trade records, risk configuration,
// prop-firm accounts, strategy definitions, OHLCV bars, and the webhook
// audit log. Derived state (account equity, cost basis, daily P&L) is
// always computed by aggregate queries over the trade table — nothing is
// mutated in place.
//
// Decimal columns are stored as TEXT and decoded into decimal.Decimal at
// the scan layer, so money never round-trips through float64.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var (
	// ErrImmutable is returned when an update would modify a terminal
	// trade or one of its invariant core fields.
	ErrImmutable = errors.New("trade is immutable")

	// ErrNoActiveRiskConfig is returned when no risk profile has
	// is_active set. The gate rejects every trade while this holds.
	ErrNoActiveRiskConfig = errors.New("no active risk configuration found")

	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
)

// Store wraps the SQLite ledger database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database and runs migrations.
// Pass ":memory:" for an ephemeral store (tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			trade_id          TEXT PRIMARY KEY,
			symbol            TEXT NOT NULL,
			side              TEXT NOT NULL,
			quantity          TEXT NOT NULL,
			order_type        TEXT NOT NULL DEFAULT 'market',
			status            TEXT NOT NULL DEFAULT 'pending',
			requested_price   TEXT,
			fill_price        TEXT,
			cost_basis        TEXT,
			realized_pnl      TEXT,
			strategy          TEXT NOT NULL DEFAULT '',
			webhook_id        TEXT NOT NULL DEFAULT '',
			broker_order_id   TEXT NOT NULL DEFAULT '',
			broker_account_id TEXT NOT NULL DEFAULT '',
			risk_approved     INTEGER NOT NULL DEFAULT 0,
			risk_reason       TEXT NOT NULL DEFAULT '',
			error_message     TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
		CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy);
		CREATE INDEX IF NOT EXISTS idx_trades_broker_order ON trades(broker_order_id);
		CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);

		CREATE TABLE IF NOT EXISTS risk_configs (
			name                   TEXT PRIMARY KEY,
			is_active              INTEGER NOT NULL DEFAULT 0,
			kill_switch_active     INTEGER NOT NULL DEFAULT 0,
			max_daily_drawdown_pct REAL NOT NULL DEFAULT 5.0,
			max_total_drawdown_pct REAL NOT NULL DEFAULT 10.0,
			max_position_size_pct  REAL NOT NULL DEFAULT 5.0,
			max_open_positions     INTEGER NOT NULL DEFAULT 10,
			max_daily_trades       INTEGER NOT NULL DEFAULT 50,
			daily_loss_limit       TEXT NOT NULL DEFAULT '1000'
		);

		CREATE TABLE IF NOT EXISTS prop_firm_accounts (
			account_id             TEXT PRIMARY KEY,
			name                   TEXT NOT NULL,
			firm                   TEXT NOT NULL DEFAULT 'other',
			account_number         TEXT NOT NULL DEFAULT '',
			broker_account_id      TEXT NOT NULL DEFAULT '',
			phase                  TEXT NOT NULL DEFAULT 'evaluation',
			is_active              INTEGER NOT NULL DEFAULT 1,
			account_size           TEXT NOT NULL DEFAULT '50000',
			max_daily_drawdown_pct REAL NOT NULL DEFAULT 5.0,
			max_total_drawdown_pct REAL NOT NULL DEFAULT 10.0,
			profit_target_pct      REAL NOT NULL DEFAULT 10.0,
			min_trading_days       INTEGER NOT NULL DEFAULT 10,
			created_at             TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strategies (
			strategy_id             TEXT PRIMARY KEY,
			name                    TEXT NOT NULL UNIQUE,
			is_active               INTEGER NOT NULL DEFAULT 0,
			asset_class             TEXT NOT NULL DEFAULT 'stocks',
			timeframe               TEXT NOT NULL DEFAULT '1d',
			symbols                 TEXT NOT NULL DEFAULT '[]',
			account_numbers         TEXT NOT NULL DEFAULT '',
			position_size_pct       REAL NOT NULL DEFAULT 2.0,
			max_positions           INTEGER NOT NULL DEFAULT 5,
			stop_loss_pct           REAL NOT NULL DEFAULT 2.0,
			take_profit_pct         REAL NOT NULL DEFAULT 4.0,
			ai_model                TEXT NOT NULL DEFAULT 'none',
			ai_confidence_threshold REAL NOT NULL DEFAULT 0.70,
			custom_params           TEXT NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS ohlcv_bars (
			symbol    TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			open      REAL NOT NULL,
			high      REAL NOT NULL,
			low       REAL NOT NULL,
			close     REAL NOT NULL,
			volume    REAL NOT NULL,
			PRIMARY KEY (symbol, timeframe, timestamp)
		);

		CREATE TABLE IF NOT EXISTS webhook_events (
			webhook_id    TEXT PRIMARY KEY,
			source        TEXT NOT NULL DEFAULT 'tradingview',
			payload       TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'received',
			error_message TEXT NOT NULL DEFAULT '',
			ticker        TEXT NOT NULL DEFAULT '',
			action        TEXT NOT NULL DEFAULT '',
			quantity      TEXT NOT NULL DEFAULT '',
			strategy      TEXT NOT NULL DEFAULT '',
			ip_address    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);
	`)
	return err
}
