// Package ledger awards battle points and serves the points leaderboard.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pnlbot/battle-engine/internal/metrics"
	"github.com/pnlbot/battle-engine/internal/model"
	"github.com/pnlbot/battle-engine/internal/rules"
	"github.com/pnlbot/battle-engine/internal/store"
)

// Ledger converts finishing ranks into cumulative user points. Totals
// only ever grow; a battle settles at most once.
type Ledger struct {
	store store.Store
}

// New creates a ledger over the battle store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Settle awards points for one completed battle: each participant gains
// the points for their rank, one played battle, and the rank-1 user one
// win. A battle that already settled is a no-op.
//
// The settlement marker is taken before any award, so a crash mid-settle
// can under-award but never double-award.
func (l *Ledger) Settle(ctx context.Context, b *model.Battle, results []model.BattleResult) error {
	already, err := l.store.MarkBattleSettled(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("ledger: mark battle %s settled: %w", b.ID, err)
	}
	if already {
		slog.Info("ledger: battle already settled, skipping", "battle_id", b.ID)
		return nil
	}

	for _, r := range results {
		points := rules.PointsForRank(r.Rank)
		if err := l.store.ApplyBattleStats(ctx, r.UserID, b.Type, points, r.Rank == 1); err != nil {
			return fmt.Errorf("ledger: apply stats for %s in battle %s: %w", r.UserID, b.ID, err)
		}
		slog.Debug("ledger: points awarded",
			"battle_id", b.ID, "user_id", r.UserID, "rank", r.Rank, "points", points)
	}

	metrics.Settlements.Inc()
	return nil
}

// Leaderboard returns the top users by battle points, all types together
// when typ is nil or one type's points otherwise.
func (l *Ledger) Leaderboard(ctx context.Context, typ *model.BattleType, limit int) ([]model.UserBattleStats, error) {
	return l.store.TopUserStats(ctx, typ, limit)
}

// UserStats returns one user's cumulative battle stats, zero-valued for
// users who never settled a battle.
func (l *Ledger) UserStats(ctx context.Context, userID string) (*model.UserBattleStats, error) {
	return l.store.GetUserStats(ctx, userID)
}
