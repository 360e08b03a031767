package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitos/perp_trader/internal/domain"
)

// PostgresStore is the optional shared trade journal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`create table if not exists trades (
			id text primary key,
			closed_at timestamptz not null,
			symbol text not null,
			side text not null,
			strategy text not null,
			entry_price double precision not null,
			exit_price double precision not null,
			quantity double precision not null,
			pnl_pct double precision not null,
			pnl_usdt double precision not null,
			exit_type text not null
		);`,
		`create table if not exists balance_samples (
			id bigserial primary key,
			sampled_at timestamptz not null,
			usdt double precision not null
		);`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RecordTrade(ctx context.Context, e domain.TradeLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`insert into trades (id, closed_at, symbol, side, strategy, entry_price, exit_price, quantity, pnl_pct, pnl_usdt, exit_type)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 on conflict (id) do nothing`,
		e.ID, e.Timestamp, e.Symbol, string(e.Side), e.Strategy, e.EntryPrice, e.ExitPrice,
		e.Quantity, e.PnLPct, e.PnLUSDT, string(e.ExitType))
	return err
}

func (s *PostgresStore) RecordBalance(ctx context.Context, b domain.BalanceSample) error {
	_, err := s.pool.Exec(ctx, `insert into balance_samples (sampled_at, usdt) values ($1, $2)`, b.Time, b.USDT)
	return err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
