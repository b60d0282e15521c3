package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/model"
	"github.com/pnlbot/battle-engine/internal/store"
)

func completedBattle(typ model.BattleType) *model.Battle {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.Battle{
		ID:           "battle-1",
		Type:         typ,
		Status:       model.BattleStatusCompleted,
		Participants: []string{"alice", "bob", "carol"},
		CreatedBy:    "alice",
		CreatedAt:    now.Add(-time.Hour),
		StartAt:      now.Add(-time.Hour),
		EndAt:        now,
	}
}

func results3() []model.BattleResult {
	return []model.BattleResult{
		{UserID: "bob", Score: decimal.NewFromInt(300), Rank: 1},
		{UserID: "alice", Score: decimal.NewFromInt(200), Rank: 2},
		{UserID: "carol", Score: decimal.NewFromInt(100), Rank: 3},
	}
}

func TestSettle_AwardsScheduledPoints(t *testing.T) {
	st := store.NewMemoryStore()
	l := New(st)
	ctx := context.Background()

	if err := l.Settle(ctx, completedBattle(model.BattleTypeProfit), results3()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	cases := []struct {
		userID string
		points int64
		won    int64
	}{
		{"bob", 100, 1},
		{"alice", 75, 0},
		{"carol", 50, 0},
	}
	for _, tc := range cases {
		stats, err := st.GetUserStats(ctx, tc.userID)
		if err != nil {
			t.Fatalf("get stats: %v", err)
		}
		if stats.TotalPoints != tc.points {
			t.Errorf("%s points = %d, want %d", tc.userID, stats.TotalPoints, tc.points)
		}
		if stats.BattlesWon != tc.won {
			t.Errorf("%s wins = %d, want %d", tc.userID, stats.BattlesWon, tc.won)
		}
		if stats.BattlesPlayed != 1 {
			t.Errorf("%s played = %d, want 1", tc.userID, stats.BattlesPlayed)
		}
		if stats.PointsFor(model.BattleTypeProfit) != tc.points {
			t.Errorf("%s profit points = %d, want %d",
				tc.userID, stats.PointsFor(model.BattleTypeProfit), tc.points)
		}
	}
}

func TestSettle_SecondCallIsNoOp(t *testing.T) {
	st := store.NewMemoryStore()
	l := New(st)
	ctx := context.Background()
	b := completedBattle(model.BattleTypeTradeCount)

	if err := l.Settle(ctx, b, results3()); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := l.Settle(ctx, b, results3()); err != nil {
		t.Fatalf("second settle: %v", err)
	}

	stats, _ := st.GetUserStats(ctx, "bob")
	if stats.TotalPoints != 100 {
		t.Errorf("bob points = %d, want 100 (no double award)", stats.TotalPoints)
	}
	if stats.BattlesPlayed != 1 {
		t.Errorf("bob played = %d, want 1", stats.BattlesPlayed)
	}
}

func TestSettle_TypeBucket(t *testing.T) {
	st := store.NewMemoryStore()
	l := New(st)
	ctx := context.Background()

	if err := l.Settle(ctx, completedBattle(model.BattleTypeTradeCount), results3()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	stats, _ := st.GetUserStats(ctx, "bob")
	if stats.PointsFor(model.BattleTypeTradeCount) != 100 {
		t.Errorf("trade_count points = %d, want 100", stats.PointsFor(model.BattleTypeTradeCount))
	}
	if stats.PointsFor(model.BattleTypeProfit) != 0 {
		t.Errorf("profit points = %d, want 0", stats.PointsFor(model.BattleTypeProfit))
	}
}

func TestLeaderboard_DelegatesOrdering(t *testing.T) {
	st := store.NewMemoryStore()
	l := New(st)
	ctx := context.Background()

	if err := l.Settle(ctx, completedBattle(model.BattleTypeProfit), results3()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	top, err := l.Leaderboard(ctx, nil, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d rows, want 2", len(top))
	}
	if top[0].UserID != "bob" || top[1].UserID != "alice" {
		t.Errorf("order = %s, %s; want bob, alice", top[0].UserID, top[1].UserID)
	}
}

func TestUserStats_UnknownUserIsZero(t *testing.T) {
	l := New(store.NewMemoryStore())

	stats, err := l.UserStats(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalPoints != 0 || stats.BattlesPlayed != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}
