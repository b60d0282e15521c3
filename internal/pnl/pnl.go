// Package pnl owns trade profit-and-loss records: ingest, time-range
// queries for battle scoring, and aggregated trader leaderboards.
//
// The battle engine consumes only the TradeSource interface; the rest of
// the surface (ingest, leaderboards, per-user totals) belongs to the
// trading-community API.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/rates"
)

// Window names accepted by WindowRange.
const (
	WindowDaily   = "daily"
	WindowWeekly  = "weekly"
	WindowMonthly = "monthly"
	WindowAll     = "all"
)

var ErrUnknownWindow = errors.New("pnl: unknown leaderboard window")

// Trade is a single recorded profit-and-loss entry. Profit is denominated
// in Currency; conversion to USD happens when the record is read, at the
// rate current at that moment.
type Trade struct {
	ID                string          `json:"id" db:"id"`
	UserID            string          `json:"user_id" db:"user_id"`
	Ticker            string          `json:"ticker" db:"ticker"`
	Profit            decimal.Decimal `json:"profit" db:"profit"`
	Currency          string          `json:"currency" db:"currency"`
	InitialInvestment decimal.Decimal `json:"initial_investment" db:"initial_investment"`
	Timestamp         time.Time       `json:"timestamp" db:"recorded_at"`
}

// TraderTotals is an aggregated view of one user's trades over a window.
type TraderTotals struct {
	UserID          string          `json:"user_id"`
	TotalProfitUSD  decimal.Decimal `json:"total_profit_usd"`
	TradeCount      int64           `json:"trade_count"`
	WinningTrades   int64           `json:"winning_trades"`
	TotalInvestment decimal.Decimal `json:"total_investment_usd"`
	WinRate         decimal.Decimal `json:"win_rate"`
}

// TradeSource is the read-only view the battle scoring engine depends on.
type TradeSource interface {
	// TradesInRange returns a user's trades with from <= Timestamp < to,
	// oldest first.
	TradesInRange(ctx context.Context, userID string, from, to time.Time) ([]Trade, error)
}

// Store is the full PNL record store.
type Store interface {
	TradeSource

	// Insert records a trade. The user id is canonicalized, and a missing
	// id, timestamp or currency is defaulted.
	Insert(ctx context.Context, t *Trade) error

	// Leaderboard returns per-user totals over [from, to), ordered by
	// total USD profit descending, at most limit rows.
	Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]TraderTotals, error)

	// UserTotals returns one user's totals over [from, to). A user with no
	// trades gets zero-valued totals, not an error.
	UserTotals(ctx context.Context, userID string, from, to time.Time) (*TraderTotals, error)
}

// CanonicalUserID normalizes a raw user handle: one leading "@" is
// stripped and the remainder lowercased, so "@Alice" and "alice" are the
// same trader everywhere.
func CanonicalUserID(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
}

// WindowRange resolves a named leaderboard window to a [from, to) pair
// anchored at now (UTC). Daily is the current UTC day, weekly the current
// Monday-started week, monthly the current calendar month, all unbounded.
func WindowRange(now time.Time, window string) (time.Time, time.Time, error) {
	now = now.UTC()
	switch window {
	case WindowDaily:
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 0, 1), nil
	case WindowWeekly:
		// Weeks run Monday through Sunday.
		offset := (int(now.Weekday()) + 6) % 7
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		from := day.AddDate(0, 0, -offset)
		return from, from.AddDate(0, 0, 7), nil
	case WindowMonthly:
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, 0), nil
	case WindowAll, "":
		return time.Time{}, now.AddDate(100, 0, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownWindow, window)
	}
}

// currencyBucket is one (user, currency) aggregation row before USD
// conversion.
type currencyBucket struct {
	userID     string
	currency   string
	profit     decimal.Decimal
	investment decimal.Decimal
	trades     int64
	winning    int64
}

var hundred = decimal.NewFromInt(100)

func (t *TraderTotals) finalize() {
	if t.TradeCount > 0 {
		t.WinRate = decimal.NewFromInt(t.WinningTrades).
			Mul(hundred).
			Div(decimal.NewFromInt(t.TradeCount))
	}
}

// normalizeTrade fills Insert defaults in place.
func normalizeTrade(t *Trade, id string, now time.Time) {
	t.UserID = CanonicalUserID(t.UserID)
	if t.ID == "" {
		t.ID = id
	}
	if t.Currency == "" {
		t.Currency = rates.USD
	}
	t.Currency = strings.ToUpper(t.Currency)
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	t.Timestamp = t.Timestamp.UTC()
}

// foldBuckets converts per-currency aggregation rows to per-user USD
// totals at the rate current now. Buckets whose currency has no available
// rate are skipped; the rate provider accounts for the failed lookup.
func foldBuckets(ctx context.Context, rp rates.Provider, buckets []currencyBucket) map[string]*TraderTotals {
	now := time.Now().UTC()
	type lookup struct {
		rate decimal.Decimal
		ok   bool
	}
	seen := make(map[string]lookup)
	totals := make(map[string]*TraderTotals)

	for _, b := range buckets {
		l, cached := seen[b.currency]
		if !cached {
			rate, err := rp.Rate(ctx, b.currency, now)
			if err != nil {
				slog.Debug("pnl: excluding currency with unavailable rate",
					"currency", b.currency, "error", err)
			}
			l = lookup{rate: rate, ok: err == nil}
			seen[b.currency] = l
		}
		if !l.ok {
			continue
		}

		t := totals[b.userID]
		if t == nil {
			t = &TraderTotals{UserID: b.userID}
			totals[b.userID] = t
		}
		t.TotalProfitUSD = t.TotalProfitUSD.Add(b.profit.Mul(l.rate))
		t.TotalInvestment = t.TotalInvestment.Add(b.investment.Mul(l.rate))
		t.TradeCount += b.trades
		t.WinningTrades += b.winning
	}
	return totals
}

// rankTotals orders folded totals by USD profit descending with user id
// breaking exact ties, then truncates to limit and fills win rates.
func rankTotals(totals map[string]*TraderTotals, limit int) []TraderTotals {
	out := make([]TraderTotals, 0, len(totals))
	for _, t := range totals {
		t.finalize()
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalProfitUSD.Cmp(out[j].TotalProfitUSD); c != 0 {
			return c > 0
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// singleTotals extracts one user's folded totals, zero-valued when the
// user has no convertible trades in the window.
func singleTotals(totals map[string]*TraderTotals, userID string) *TraderTotals {
	t := totals[userID]
	if t == nil {
		return &TraderTotals{UserID: userID}
	}
	t.finalize()
	return t
}
