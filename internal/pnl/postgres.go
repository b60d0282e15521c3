package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/rates"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Profit amounts are stored as NUMERIC in their original currency and
// converted to USD when aggregates are read.
type PostgresStore struct {
	pool  *pgxpool.Pool
	rates rates.Provider
}

// NewPostgresStore creates a new PostgreSQL-backed PNL store.
func NewPostgresStore(pool *pgxpool.Pool, rp rates.Provider) *PostgresStore {
	return &PostgresStore{pool: pool, rates: rp}
}

// Migrate creates the pnl_records table and its query index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pnl_records (
			id                 UUID PRIMARY KEY,
			user_id            TEXT NOT NULL,
			ticker             TEXT NOT NULL DEFAULT '',
			profit             NUMERIC NOT NULL,
			currency           TEXT NOT NULL DEFAULT 'USD',
			initial_investment NUMERIC NOT NULL DEFAULT 0,
			recorded_at        TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pnl_records_user_time
			ON pnl_records (user_id, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_pnl_records_time
			ON pnl_records (recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate pnl_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, t *Trade) error {
	normalizeTrade(t, uuid.NewString(), time.Now().UTC())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pnl_records (id, user_id, ticker, profit, currency, initial_investment, recorded_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7)`,
		t.ID, t.UserID, t.Ticker,
		t.Profit.String(), t.Currency, t.InitialInvestment.String(),
		t.Timestamp,
	)
	return err
}

func (s *PostgresStore) TradesInRange(ctx context.Context, userID string, from, to time.Time) ([]Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, ticker, profit::TEXT, currency, initial_investment::TEXT, recorded_at
		 FROM pnl_records
		 WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		 ORDER BY recorded_at`,
		CanonicalUserID(userID), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var profitS, investS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker,
			&profitS, &t.Currency, &investS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Profit, _ = decimal.NewFromString(profitS)
		t.InitialInvestment, _ = decimal.NewFromString(investS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]TraderTotals, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, currency,
		        COALESCE(SUM(profit), 0)::TEXT AS profit,
		        COALESCE(SUM(initial_investment), 0)::TEXT AS investment,
		        COUNT(*) AS trades,
		        COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0) AS winning
		 FROM pnl_records
		 WHERE recorded_at >= $1 AND recorded_at < $2
		 GROUP BY user_id, currency`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets, err := scanBuckets(rows)
	if err != nil {
		return nil, err
	}
	return rankTotals(foldBuckets(ctx, s.rates, buckets), limit), nil
}

func (s *PostgresStore) UserTotals(ctx context.Context, userID string, from, to time.Time) (*TraderTotals, error) {
	userID = CanonicalUserID(userID)
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, currency,
		        COALESCE(SUM(profit), 0)::TEXT AS profit,
		        COALESCE(SUM(initial_investment), 0)::TEXT AS investment,
		        COUNT(*) AS trades,
		        COALESCE(SUM(CASE WHEN profit > 0 THEN 1 ELSE 0 END), 0) AS winning
		 FROM pnl_records
		 WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		 GROUP BY user_id, currency`,
		userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets, err := scanBuckets(rows)
	if err != nil {
		return nil, err
	}
	return singleTotals(foldBuckets(ctx, s.rates, buckets), userID), nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanBuckets reads per-currency aggregation rows.
func scanBuckets(rows pgxRows) ([]currencyBucket, error) {
	var buckets []currencyBucket
	for rows.Next() {
		var b currencyBucket
		var profitS, investS string

		if err := rows.Scan(&b.userID, &b.currency,
			&profitS, &investS, &b.trades, &b.winning); err != nil {
			return nil, err
		}

		b.profit, _ = decimal.NewFromString(profitS)
		b.investment, _ = decimal.NewFromString(investS)

		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
