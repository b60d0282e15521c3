package pnl

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pnlbot/battle-engine/internal/rates"
)

// MemoryStore implements Store with an in-memory slice. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	trades []Trade
	rates  rates.Provider
}

// NewMemoryStore creates a new in-memory PNL store.
func NewMemoryStore(rp rates.Provider) *MemoryStore {
	return &MemoryStore{rates: rp}
}

func (s *MemoryStore) Insert(_ context.Context, t *Trade) error {
	normalizeTrade(t, uuid.NewString(), time.Now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradesInRange(_ context.Context, userID string, from, to time.Time) ([]Trade, error) {
	userID = CanonicalUserID(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Trade
	for _, t := range s.trades {
		if t.UserID == userID && inRange(t.Timestamp, from, to) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]TraderTotals, error) {
	buckets := s.bucketize(func(t *Trade) bool { return inRange(t.Timestamp, from, to) })
	return rankTotals(foldBuckets(ctx, s.rates, buckets), limit), nil
}

func (s *MemoryStore) UserTotals(ctx context.Context, userID string, from, to time.Time) (*TraderTotals, error) {
	userID = CanonicalUserID(userID)
	buckets := s.bucketize(func(t *Trade) bool {
		return t.UserID == userID && inRange(t.Timestamp, from, to)
	})
	return singleTotals(foldBuckets(ctx, s.rates, buckets), userID), nil
}

// bucketize aggregates matching trades per (user, currency), mirroring
// the SQL GROUP BY the Postgres store runs.
func (s *MemoryStore) bucketize(match func(*Trade) bool) []currencyBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*currencyBucket)
	var keys []string
	for i := range s.trades {
		t := &s.trades[i]
		if !match(t) {
			continue
		}
		key := t.UserID + "\x00" + t.Currency
		b, ok := agg[key]
		if !ok {
			b = &currencyBucket{userID: t.UserID, currency: t.Currency}
			agg[key] = b
			keys = append(keys, key)
		}
		b.profit = b.profit.Add(t.Profit)
		b.investment = b.investment.Add(t.InitialInvestment)
		b.trades++
		if t.Profit.Sign() > 0 {
			b.winning++
		}
	}

	buckets := make([]currencyBucket, 0, len(keys))
	for _, key := range keys {
		buckets = append(buckets, *agg[key])
	}
	return buckets
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}
