package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pnlbot/battle-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	battles map[string]*model.Battle
	stats   map[string]*model.UserBattleStats
	settled map[string]bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		battles: make(map[string]*model.Battle),
		stats:   make(map[string]*model.UserBattleStats),
		settled: make(map[string]bool),
	}
}

func (s *MemoryStore) InsertBattle(_ context.Context, b *model.Battle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.battles[b.ID]; exists {
		return fmt.Errorf("battle %s already exists", b.ID)
	}
	s.battles[b.ID] = copyBattle(b)
	return nil
}

func (s *MemoryStore) GetBattle(_ context.Context, id string) (*model.Battle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.battles[id]
	if !ok {
		return nil, fmt.Errorf("get battle %s: %w", id, ErrNotFound)
	}
	return copyBattle(b), nil
}

func (s *MemoryStore) ListActiveBattles(_ context.Context) ([]model.Battle, error) {
	return s.listWhere(func(b *model.Battle) bool {
		return b.Status == model.BattleStatusActive
	}, byEndAt, 0), nil
}

func (s *MemoryStore) ListExpiredBattles(_ context.Context, now time.Time) ([]model.Battle, error) {
	return s.listWhere(func(b *model.Battle) bool {
		return b.Status == model.BattleStatusActive && b.Expired(now)
	}, byEndAt, 0), nil
}

func (s *MemoryStore) ListBattlesByParticipant(_ context.Context, userID string, limit int) ([]model.Battle, error) {
	return s.listWhere(func(b *model.Battle) bool {
		for _, p := range b.Participants {
			if p == userID {
				return true
			}
		}
		return false
	}, byCreatedAtDesc, limit), nil
}

func (s *MemoryStore) UpdateBattleStatus(_ context.Context, id string, from, to model.BattleStatus, results []model.BattleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.battles[id]
	if !ok {
		return fmt.Errorf("update battle %s: %w", id, ErrNotFound)
	}
	if b.Status != from {
		return fmt.Errorf("update battle %s from %s to %s: %w", id, from, to, ErrStatusConflict)
	}
	b.Status = to
	b.Results = append([]model.BattleResult(nil), results...)
	return nil
}

func (s *MemoryStore) MarkBattleSettled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled[id] {
		return true, nil
	}
	s.settled[id] = true
	return false, nil
}

func (s *MemoryStore) ApplyBattleStats(_ context.Context, userID string, typ model.BattleType, points int64, won bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[userID]
	if !ok {
		st = zeroStats(userID)
		s.stats[userID] = st
	}
	st.TotalPoints += points
	st.PointsByType[typ] += points
	st.BattlesPlayed++
	if won {
		st.BattlesWon++
	}
	return nil
}

func (s *MemoryStore) GetUserStats(_ context.Context, userID string) (*model.UserBattleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[userID]
	if !ok {
		return zeroStats(userID), nil
	}
	return copyStats(st), nil
}

func (s *MemoryStore) TopUserStats(_ context.Context, typ *model.BattleType, limit int) ([]model.UserBattleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := func(st *model.UserBattleStats) int64 {
		if typ == nil {
			return st.TotalPoints
		}
		return st.PointsByType[*typ]
	}

	stats := make([]model.UserBattleStats, 0, len(s.stats))
	for _, st := range s.stats {
		stats = append(stats, *copyStats(st))
	}
	sort.Slice(stats, func(i, j int) bool {
		if points(&stats[i]) != points(&stats[j]) {
			return points(&stats[i]) > points(&stats[j])
		}
		if stats[i].BattlesWon != stats[j].BattlesWon {
			return stats[i].BattlesWon > stats[j].BattlesWon
		}
		return stats[i].UserID < stats[j].UserID
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// listWhere snapshots matching battles under the read lock.
func (s *MemoryStore) listWhere(match func(*model.Battle) bool, less func(a, b *model.Battle) bool, limit int) []model.Battle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Battle
	for _, b := range s.battles {
		if match(b) {
			result = append(result, *copyBattle(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(&result[i], &result[j]) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func byEndAt(a, b *model.Battle) bool { return a.EndAt.Before(b.EndAt) }

func byCreatedAtDesc(a, b *model.Battle) bool { return a.CreatedAt.After(b.CreatedAt) }

// copyBattle clones a battle including its slices so callers cannot
// mutate stored state.
func copyBattle(b *model.Battle) *model.Battle {
	c := *b
	c.Participants = append([]string(nil), b.Participants...)
	c.Results = append([]model.BattleResult(nil), b.Results...)
	return &c
}

func copyStats(st *model.UserBattleStats) *model.UserBattleStats {
	c := *st
	c.PointsByType = make(map[model.BattleType]int64, len(st.PointsByType))
	for k, v := range st.PointsByType {
		c.PointsByType[k] = v
	}
	return &c
}
