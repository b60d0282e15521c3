// Package scoring computes battle scores from recorded trades.
//
// Scoring is read-only with respect to the PNL store: a score is a pure
// function of the records visible at the moment it runs.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/model"
	"github.com/pnlbot/battle-engine/internal/pnl"
	"github.com/pnlbot/battle-engine/internal/rates"
)

var ErrUnsupportedType = errors.New("scoring: unsupported battle type")

// Engine scores one participant of one battle.
type Engine struct {
	trades pnl.TradeSource
	rates  rates.Provider
}

// NewEngine creates a scoring engine over a trade source and a currency
// rate provider.
func NewEngine(trades pnl.TradeSource, rp rates.Provider) *Engine {
	return &Engine{trades: trades, rates: rp}
}

// Score computes userID's score for battle b using rates in effect now.
// A participant with no trades in the scoring window scores zero.
func (e *Engine) Score(ctx context.Context, b *model.Battle, userID string) (decimal.Decimal, error) {
	return e.ScoreAt(ctx, b, userID, time.Now().UTC())
}

// ScoreAt computes userID's score for battle b, converting non-USD profit
// at the rate in effect at the given instant.
//
// Profit battles sum USD-converted profit over [StartAt, EndAt). A record
// whose currency cannot be converted is excluded from the sum; it never
// fails the computation. Trade-count battles count records regardless of
// profit sign.
func (e *Engine) ScoreAt(ctx context.Context, b *model.Battle, userID string, at time.Time) (decimal.Decimal, error) {
	trades, err := e.trades.TradesInRange(ctx, userID, b.StartAt, b.EndAt)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("scoring: load trades for %s: %w", userID, err)
	}

	switch b.Type {
	case model.BattleTypeTradeCount:
		return decimal.NewFromInt(int64(len(trades))), nil
	case model.BattleTypeProfit:
		return e.sumProfitUSD(ctx, trades, at), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrUnsupportedType, b.Type)
	}
}

// TradeCount reports how many trades userID recorded inside b's scoring
// window. It feeds the live-standings view alongside the score.
func (e *Engine) TradeCount(ctx context.Context, b *model.Battle, userID string) (int, error) {
	trades, err := e.trades.TradesInRange(ctx, userID, b.StartAt, b.EndAt)
	if err != nil {
		return 0, fmt.Errorf("scoring: load trades for %s: %w", userID, err)
	}
	return len(trades), nil
}

func (e *Engine) sumProfitUSD(ctx context.Context, trades []pnl.Trade, at time.Time) decimal.Decimal {
	var total decimal.Decimal
	for _, t := range trades {
		rate, err := e.rates.Rate(ctx, t.Currency, at)
		if err != nil {
			slog.Debug("scoring: excluding record with no usable rate",
				"trade_id", t.ID, "user_id", t.UserID, "currency", t.Currency, "error", err)
			continue
		}
		total = total.Add(t.Profit.Mul(rate))
	}
	return total
}
