package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pnlbot/battle-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertBattle(ctx context.Context, b *model.Battle) error {
	if err := s.primary.InsertBattle(ctx, b); err != nil {
		return err
	}
	s.cacheBattle(ctx, b)
	return nil
}

func (s *CachedStore) UpdateBattleStatus(ctx context.Context, id string, from, to model.BattleStatus, results []model.BattleResult) error {
	if err := s.primary.UpdateBattleStatus(ctx, id, from, to, results); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, battleKey(id))
	return nil
}

func (s *CachedStore) ApplyBattleStats(ctx context.Context, userID string, typ model.BattleType, points int64, won bool) error {
	if err := s.primary.ApplyBattleStats(ctx, userID, typ, points, won); err != nil {
		return err
	}
	s.rdb.Del(ctx, statsKey(userID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetBattle(ctx context.Context, id string) (*model.Battle, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, battleKey(id)).Bytes()
	if err == nil {
		var b model.Battle
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	// Cache miss: read from primary.
	b, err := s.primary.GetBattle(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheBattle(ctx, b)
	return b, nil
}

func (s *CachedStore) GetUserStats(ctx context.Context, userID string) (*model.UserBattleStats, error) {
	data, err := s.rdb.Get(ctx, statsKey(userID)).Bytes()
	if err == nil {
		var st model.UserBattleStats
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, statsKey(userID), data, s.ttl)
	}
	return st, nil
}

// TopUserStats is cached per (type, limit) and ages out by TTL alone:
// stats writes cannot enumerate every cached limit variant, so boards may
// lag the ledger by up to one TTL.
func (s *CachedStore) TopUserStats(ctx context.Context, typ *model.BattleType, limit int) ([]model.UserBattleStats, error) {
	key := leaderboardKey(typ, limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var stats []model.UserBattleStats
		if json.Unmarshal(data, &stats) == nil {
			return stats, nil
		}
	}

	stats, err := s.primary.TopUserStats(ctx, typ, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(stats); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return stats, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListActiveBattles(ctx context.Context) ([]model.Battle, error) {
	return s.primary.ListActiveBattles(ctx)
}

func (s *CachedStore) ListExpiredBattles(ctx context.Context, now time.Time) ([]model.Battle, error) {
	return s.primary.ListExpiredBattles(ctx, now)
}

func (s *CachedStore) ListBattlesByParticipant(ctx context.Context, userID string, limit int) ([]model.Battle, error) {
	return s.primary.ListBattlesByParticipant(ctx, userID, limit)
}

func (s *CachedStore) MarkBattleSettled(ctx context.Context, id string) (bool, error) {
	return s.primary.MarkBattleSettled(ctx, id)
}

// --- Cache helpers ---

func (s *CachedStore) cacheBattle(ctx context.Context, b *model.Battle) {
	if data, err := json.Marshal(b); err == nil {
		s.rdb.Set(ctx, battleKey(b.ID), data, s.ttl)
	}
}

func battleKey(id string) string { return fmt.Sprintf("battle:%s", id) }
func statsKey(uid string) string { return fmt.Sprintf("battlestats:%s", uid) }

func leaderboardKey(typ *model.BattleType, limit int) string {
	label := "total"
	if typ != nil {
		label = string(*typ)
	}
	return fmt.Sprintf("leaderboard:%s:%d", label, limit)
}
