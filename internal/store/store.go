// Package store defines the persistence interface for the battle engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pnlbot/battle-engine/internal/model"
)

var (
	// ErrNotFound is returned when no battle exists for an id.
	ErrNotFound = errors.New("store: battle not found")

	// ErrStatusConflict is returned by UpdateBattleStatus when the battle's
	// current status does not match the expected one. Exactly one of any
	// set of concurrent conditional updates can succeed.
	ErrStatusConflict = errors.New("store: battle status conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Battle documents ---

	// InsertBattle persists a new battle.
	InsertBattle(ctx context.Context, b *model.Battle) error

	// GetBattle retrieves a battle by its ID.
	GetBattle(ctx context.Context, id string) (*model.Battle, error)

	// ListActiveBattles returns all battles with status active.
	ListActiveBattles(ctx context.Context) ([]model.Battle, error)

	// ListExpiredBattles returns active battles whose scoring window has
	// closed (EndAt <= now), soonest-expired first.
	ListExpiredBattles(ctx context.Context, now time.Time) ([]model.Battle, error)

	// ListBattlesByParticipant returns battles a user fought in, newest
	// first, at most limit.
	ListBattlesByParticipant(ctx context.Context, userID string, limit int) ([]model.Battle, error)

	// UpdateBattleStatus moves a battle from one status to another and
	// stores the given results, conditionally: the update applies only if
	// the battle's current status equals from. A missing battle returns
	// ErrNotFound; a status mismatch returns ErrStatusConflict.
	UpdateBattleStatus(ctx context.Context, id string, from, to model.BattleStatus, results []model.BattleResult) error

	// --- Settlement and stats ---

	// MarkBattleSettled records that a battle's points were awarded.
	// It reports whether the battle had already been marked.
	MarkBattleSettled(ctx context.Context, id string) (already bool, err error)

	// ApplyBattleStats increments one user's cumulative battle stats:
	// points onto the total and the per-type bucket, one played battle,
	// and optionally one win.
	ApplyBattleStats(ctx context.Context, userID string, typ model.BattleType, points int64, won bool) error

	// GetUserStats returns a user's cumulative stats. Users with no
	// settled battles get zero-valued stats, not an error.
	GetUserStats(ctx context.Context, userID string) (*model.UserBattleStats, error)

	// TopUserStats returns the points leaderboard: by total points when
	// typ is nil, otherwise by the points earned in battles of that type.
	// Ties break by battles won, then user id.
	TopUserStats(ctx context.Context, typ *model.BattleType, limit int) ([]model.UserBattleStats, error)
}
