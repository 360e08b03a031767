package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/perp_trader/internal/domain"
)

// SQLiteStore journals closed trades and balance samples.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			closed_at DATETIME NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			strategy TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			quantity REAL NOT NULL,
			pnl_pct REAL NOT NULL,
			pnl_usdt REAL NOT NULL,
			exit_type TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);`,
		`CREATE TABLE IF NOT EXISTS balance_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sampled_at DATETIME NOT NULL,
			usdt REAL NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) RecordTrade(ctx context.Context, e domain.TradeLogEntry) error {
	query := `INSERT INTO trades (id, closed_at, symbol, side, strategy, entry_price, exit_price, quantity, pnl_pct, pnl_usdt, exit_type)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Timestamp.UTC(), e.Symbol, string(e.Side), e.Strategy, e.EntryPrice, e.ExitPrice,
		e.Quantity, e.PnLPct, e.PnLUSDT, string(e.ExitType))
	return err
}

func (s *SQLiteStore) RecordBalance(ctx context.Context, b domain.BalanceSample) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO balance_samples (sampled_at, usdt) VALUES (?, ?)`, b.Time.UTC(), b.USDT)
	return err
}

// ListTrades returns up to limit trades, newest first.
func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]domain.TradeLogEntry, error) {
	query := `SELECT id, closed_at, symbol, side, strategy, entry_price, exit_price, quantity, pnl_pct, pnl_usdt, exit_type
			  FROM trades ORDER BY closed_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.TradeLogEntry
	for rows.Next() {
		var e domain.TradeLogEntry
		var side, exitType string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Symbol, &side, &e.Strategy, &e.EntryPrice, &e.ExitPrice,
			&e.Quantity, &e.PnLPct, &e.PnLUSDT, &exitType); err != nil {
			return nil, err
		}
		e.Side = domain.Side(side)
		e.ExitType = domain.ExitType(exitType)
		trades = append(trades, e)
	}
	return trades, rows.Err()
}

// ListBalances returns samples taken at or after since, oldest first.
func (s *SQLiteStore) ListBalances(ctx context.Context, since time.Time) ([]domain.BalanceSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sampled_at, usdt FROM balance_samples WHERE sampled_at >= ? ORDER BY sampled_at, id`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BalanceSample
	for rows.Next() {
		var b domain.BalanceSample
		if err := rows.Scan(&b.Time, &b.USDT); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
