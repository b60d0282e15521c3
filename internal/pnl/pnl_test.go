package pnl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/rates"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testRates() rates.Provider {
	return rates.NewStaticProvider(map[string]decimal.Decimal{
		"SOL": d(100),
	})
}

func seedTrade(t *testing.T, s Store, userID string, profit decimal.Decimal, currency string, at time.Time) {
	t.Helper()
	tr := &Trade{
		UserID:    userID,
		Profit:    profit,
		Currency:  currency,
		Timestamp: at,
	}
	if err := s.Insert(context.Background(), tr); err != nil {
		t.Fatalf("insert trade: %v", err)
	}
}

func TestCanonicalUserID(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"alice", "alice"},
		{"@alice", "alice"},
		{"@Alice", "alice"},
		{"ALICE", "alice"},
		{" @Bob_99 ", "bob_99"},
		{"@@alice", "@alice"}, // only one @ stripped
		{"", ""},
	}
	for _, tc := range cases {
		if got := CanonicalUserID(tc.raw); got != tc.want {
			t.Errorf("CanonicalUserID(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestWindowRange(t *testing.T) {
	// A Wednesday, mid-month.
	now := time.Date(2024, 5, 15, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		window   string
		wantFrom time.Time
		wantTo   time.Time
	}{
		{WindowDaily,
			time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC)},
		{WindowWeekly,
			time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC), // Monday
			time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)},
		{WindowMonthly,
			time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		from, to, err := WindowRange(now, tc.window)
		if err != nil {
			t.Fatalf("WindowRange(%q): %v", tc.window, err)
		}
		if !from.Equal(tc.wantFrom) || !to.Equal(tc.wantTo) {
			t.Errorf("WindowRange(%q) = [%s, %s), want [%s, %s)",
				tc.window, from, to, tc.wantFrom, tc.wantTo)
		}
	}
}

func TestWindowRange_WeeklyOnSunday(t *testing.T) {
	sunday := time.Date(2024, 5, 19, 23, 0, 0, 0, time.UTC)
	from, _, err := WindowRange(sunday, WindowWeekly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)
	if !from.Equal(want) {
		t.Errorf("week start = %s, want %s (previous Monday)", from, want)
	}
}

func TestWindowRange_AllIsUnbounded(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	from, to, err := WindowRange(now, WindowAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	old := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	if old.Before(from) || !old.Before(to) {
		t.Errorf("[%s, %s) does not cover %s", from, to, old)
	}
}

func TestWindowRange_Unknown(t *testing.T) {
	_, _, err := WindowRange(time.Now(), "fortnightly")
	if !errors.Is(err, ErrUnknownWindow) {
		t.Errorf("error = %v, want ErrUnknownWindow", err)
	}
}

func TestMemoryStore_InsertDefaults(t *testing.T) {
	s := NewMemoryStore(testRates())
	tr := &Trade{UserID: "@Alice", Profit: d(50)}

	if err := s.Insert(context.Background(), tr); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if tr.ID == "" {
		t.Error("id not defaulted")
	}
	if tr.UserID != "alice" {
		t.Errorf("user id = %q, want canonical %q", tr.UserID, "alice")
	}
	if tr.Currency != "USD" {
		t.Errorf("currency = %q, want USD default", tr.Currency)
	}
	if tr.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}

func TestMemoryStore_TradesInRangeHalfOpen(t *testing.T) {
	s := NewMemoryStore(testRates())
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	seedTrade(t, s, "alice", d(1), "USD", from.Add(-time.Second)) // before
	seedTrade(t, s, "alice", d(2), "USD", from)                   // on start: in
	seedTrade(t, s, "alice", d(3), "USD", to.Add(-time.Second))   // in
	seedTrade(t, s, "alice", d(4), "USD", to)                     // on end: out
	seedTrade(t, s, "bob", d(5), "USD", from)                     // other user

	trades, err := s.TradesInRange(context.Background(), "alice", from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if !trades[0].Profit.Equal(d(2)) || !trades[1].Profit.Equal(d(3)) {
		t.Errorf("wrong trades selected: %v", trades)
	}
}

func TestMemoryStore_LeaderboardConvertsAndRanks(t *testing.T) {
	s := NewMemoryStore(testRates())
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	seedTrade(t, s, "alice", d(500), "USD", at)
	seedTrade(t, s, "bob", d(2), "SOL", at) // 2 SOL * 100 = 200 USD
	seedTrade(t, s, "bob", d(150), "USD", at)
	seedTrade(t, s, "carol", d(9000), "USD", at.Add(48*time.Hour)) // outside window

	board, err := s.Leaderboard(context.Background(), at.Add(-time.Hour), at.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("got %d rows, want 2", len(board))
	}
	if board[0].UserID != "alice" || !board[0].TotalProfitUSD.Equal(d(500)) {
		t.Errorf("rank 1 = %s %s, want alice 500", board[0].UserID, board[0].TotalProfitUSD)
	}
	if board[1].UserID != "bob" || !board[1].TotalProfitUSD.Equal(d(350)) {
		t.Errorf("rank 2 = %s %s, want bob 350", board[1].UserID, board[1].TotalProfitUSD)
	}
}

func TestMemoryStore_LeaderboardLimit(t *testing.T) {
	s := NewMemoryStore(testRates())
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seedTrade(t, s, "alice", d(3), "USD", at)
	seedTrade(t, s, "bob", d(2), "USD", at)
	seedTrade(t, s, "carol", d(1), "USD", at)

	board, err := s.Leaderboard(context.Background(), at.Add(-time.Hour), at.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("got %d rows, want 2", len(board))
	}
	if board[0].UserID != "alice" || board[1].UserID != "bob" {
		t.Errorf("top 2 = %s, %s; want alice, bob", board[0].UserID, board[1].UserID)
	}
}

func TestMemoryStore_LeaderboardExcludesUnavailableCurrency(t *testing.T) {
	s := NewMemoryStore(testRates()) // knows USD and SOL only
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	seedTrade(t, s, "alice", d(10), "USD", at)
	seedTrade(t, s, "alice", d(999), "DOGE", at) // no rate: excluded

	board, err := s.Leaderboard(context.Background(), at.Add(-time.Hour), at.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(board) != 1 {
		t.Fatalf("got %d rows, want 1", len(board))
	}
	if !board[0].TotalProfitUSD.Equal(d(10)) {
		t.Errorf("total = %s, want 10 (DOGE bucket excluded)", board[0].TotalProfitUSD)
	}
	if board[0].TradeCount != 1 {
		t.Errorf("trade count = %d, want 1", board[0].TradeCount)
	}
}

func TestMemoryStore_UserTotalsWinRate(t *testing.T) {
	s := NewMemoryStore(testRates())
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	seedTrade(t, s, "alice", d(100), "USD", at)
	seedTrade(t, s, "alice", d(-40), "USD", at.Add(time.Minute))
	seedTrade(t, s, "alice", d(60), "USD", at.Add(2*time.Minute))
	seedTrade(t, s, "alice", d(-20), "USD", at.Add(3*time.Minute))

	totals, err := s.UserTotals(context.Background(), "@ALICE", at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.TradeCount != 4 || totals.WinningTrades != 2 {
		t.Fatalf("count/winning = %d/%d, want 4/2", totals.TradeCount, totals.WinningTrades)
	}
	if !totals.TotalProfitUSD.Equal(d(100)) {
		t.Errorf("total profit = %s, want 100", totals.TotalProfitUSD)
	}
	if !totals.WinRate.Equal(d(50)) {
		t.Errorf("win rate = %s, want 50", totals.WinRate)
	}
}

func TestMemoryStore_UserTotalsUnknownUser(t *testing.T) {
	s := NewMemoryStore(testRates())

	totals, err := s.UserTotals(context.Background(), "ghost", time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.UserID != "ghost" || totals.TradeCount != 0 || !totals.TotalProfitUSD.IsZero() {
		t.Errorf("expected zero totals, got %+v", totals)
	}
}
