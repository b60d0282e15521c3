package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pnlbot/battle-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Results are embedded in the battle row as JSONB, mirroring the
// one-document-per-battle shape the engine reasons about.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the battle tables: battles, user_battle_stats, and the
// battle_settlements idempotency markers.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS battles (
			id           UUID PRIMARY KEY,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL,
			participants TEXT[] NOT NULL,
			created_by   TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			start_at     TIMESTAMPTZ NOT NULL,
			end_at       TIMESTAMPTZ NOT NULL,
			results      JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_battles_status_end
			ON battles (status, end_at);
		CREATE INDEX IF NOT EXISTS idx_battles_participants
			ON battles USING GIN (participants);

		CREATE TABLE IF NOT EXISTS user_battle_stats (
			user_id            TEXT PRIMARY KEY,
			total_points       BIGINT NOT NULL DEFAULT 0,
			battles_played     BIGINT NOT NULL DEFAULT 0,
			battles_won        BIGINT NOT NULL DEFAULT 0,
			profit_points      BIGINT NOT NULL DEFAULT 0,
			trade_count_points BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS battle_settlements (
			battle_id  UUID PRIMARY KEY,
			settled_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate battle tables: %w", err)
	}
	return nil
}

const battleColumns = `id, type, status, participants, created_by, created_at, start_at, end_at, results`

func (s *PostgresStore) InsertBattle(ctx context.Context, b *model.Battle) error {
	results, err := json.Marshal(b.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO battles (`+battleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.Type, b.Status, b.Participants, b.CreatedBy,
		b.CreatedAt, b.StartAt, b.EndAt, results,
	)
	return err
}

func (s *PostgresStore) GetBattle(ctx context.Context, id string) (*model.Battle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+battleColumns+` FROM battles WHERE id = $1`, id)

	b, err := scanBattle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get battle %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get battle %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) ListActiveBattles(ctx context.Context) ([]model.Battle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+battleColumns+` FROM battles
		 WHERE status = $1 ORDER BY end_at`, model.BattleStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBattles(rows)
}

func (s *PostgresStore) ListExpiredBattles(ctx context.Context, now time.Time) ([]model.Battle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+battleColumns+` FROM battles
		 WHERE status = $1 AND end_at <= $2 ORDER BY end_at`,
		model.BattleStatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBattles(rows)
}

func (s *PostgresStore) ListBattlesByParticipant(ctx context.Context, userID string, limit int) ([]model.Battle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+battleColumns+` FROM battles
		 WHERE $1 = ANY(participants)
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBattles(rows)
}

// UpdateBattleStatus is the compare-and-swap the completion and
// cancellation paths rely on: the row only changes when its status still
// equals from, so one of any set of concurrent callers wins and the rest
// get ErrStatusConflict.
func (s *PostgresStore) UpdateBattleStatus(ctx context.Context, id string, from, to model.BattleStatus, results []model.BattleResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE battles SET status = $3, results = $4
		 WHERE id = $1 AND status = $2`,
		id, from, to, data)
	if err != nil {
		return fmt.Errorf("update battle %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row changed: either the battle is gone or another caller moved
	// the status first.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM battles WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update battle %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("update battle %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("update battle %s from %s to %s: %w", id, from, to, ErrStatusConflict)
}

func (s *PostgresStore) MarkBattleSettled(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO battle_settlements (battle_id, settled_at)
		 VALUES ($1, $2)
		 ON CONFLICT (battle_id) DO NOTHING`,
		id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark battle %s settled: %w", id, err)
	}
	return tag.RowsAffected() == 0, nil
}

func (s *PostgresStore) ApplyBattleStats(ctx context.Context, userID string, typ model.BattleType, points int64, won bool) error {
	var wonInc, profitPoints, tradeCountPoints int64
	if won {
		wonInc = 1
	}
	switch typ {
	case model.BattleTypeProfit:
		profitPoints = points
	case model.BattleTypeTradeCount:
		tradeCountPoints = points
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_battle_stats
			(user_id, total_points, battles_played, battles_won, profit_points, trade_count_points)
		 VALUES ($1, $2, 1, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
			total_points       = user_battle_stats.total_points + EXCLUDED.total_points,
			battles_played     = user_battle_stats.battles_played + 1,
			battles_won        = user_battle_stats.battles_won + EXCLUDED.battles_won,
			profit_points      = user_battle_stats.profit_points + EXCLUDED.profit_points,
			trade_count_points = user_battle_stats.trade_count_points + EXCLUDED.trade_count_points`,
		userID, points, wonInc, profitPoints, tradeCountPoints)
	if err != nil {
		return fmt.Errorf("apply stats for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) GetUserStats(ctx context.Context, userID string) (*model.UserBattleStats, error) {
	var st model.UserBattleStats
	var profitPoints, tradeCountPoints int64

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, total_points, battles_played, battles_won, profit_points, trade_count_points
		 FROM user_battle_stats WHERE user_id = $1`, userID).
		Scan(&st.UserID, &st.TotalPoints, &st.BattlesPlayed, &st.BattlesWon,
			&profitPoints, &tradeCountPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return zeroStats(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats for %s: %w", userID, err)
	}

	st.PointsByType = pointsByType(profitPoints, tradeCountPoints)
	return &st, nil
}

func (s *PostgresStore) TopUserStats(ctx context.Context, typ *model.BattleType, limit int) ([]model.UserBattleStats, error) {
	orderCol := "total_points"
	switch {
	case typ == nil:
	case *typ == model.BattleTypeProfit:
		orderCol = "profit_points"
	case *typ == model.BattleTypeTradeCount:
		orderCol = "trade_count_points"
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT user_id, total_points, battles_played, battles_won, profit_points, trade_count_points
		 FROM user_battle_stats
		 ORDER BY %s DESC, battles_won DESC, user_id ASC
		 LIMIT $1`, orderCol), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.UserBattleStats
	for rows.Next() {
		var st model.UserBattleStats
		var profitPoints, tradeCountPoints int64
		if err := rows.Scan(&st.UserID, &st.TotalPoints, &st.BattlesPlayed,
			&st.BattlesWon, &profitPoints, &tradeCountPoints); err != nil {
			return nil, err
		}
		st.PointsByType = pointsByType(profitPoints, tradeCountPoints)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// --- Row scanning ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanBattle(row pgxRow) (*model.Battle, error) {
	var b model.Battle
	var results []byte

	if err := row.Scan(&b.ID, &b.Type, &b.Status, &b.Participants,
		&b.CreatedBy, &b.CreatedAt, &b.StartAt, &b.EndAt, &results); err != nil {
		return nil, err
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &b.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return &b, nil
}

func scanBattles(rows pgx.Rows) ([]model.Battle, error) {
	var battles []model.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, err
		}
		battles = append(battles, *b)
	}
	return battles, rows.Err()
}

func zeroStats(userID string) *model.UserBattleStats {
	return &model.UserBattleStats{
		UserID:       userID,
		PointsByType: pointsByType(0, 0),
	}
}

func pointsByType(profit, tradeCount int64) map[model.BattleType]int64 {
	return map[model.BattleType]int64{
		model.BattleTypeProfit:     profit,
		model.BattleTypeTradeCount: tradeCount,
	}
}
