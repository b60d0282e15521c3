// Package model defines the core domain types shared across the battle engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BattleType selects the scoring mode of a battle.
type BattleType string

const (
	// BattleTypeProfit ranks participants by summed USD profit.
	BattleTypeProfit BattleType = "profit"

	// BattleTypeTradeCount ranks participants by number of trades
	// submitted, regardless of profit or loss.
	BattleTypeTradeCount BattleType = "trade_count"
)

// BattleStatus is the lifecycle state of a battle.
type BattleStatus string

const (
	// BattleStatusPending exists for interactive setup flows only.
	// The engine never persists a pending battle.
	BattleStatusPending BattleStatus = "pending"

	// BattleStatusActive means the scoring window is open and the battle
	// appears on live standings.
	BattleStatusActive BattleStatus = "active"

	// BattleStatusCompleted is terminal: results are fixed and points
	// have been settled.
	BattleStatusCompleted BattleStatus = "completed"

	// BattleStatusCancelled is terminal: the battle was aborted before
	// its end time and awards no points.
	BattleStatusCancelled BattleStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s BattleStatus) Terminal() bool {
	return s == BattleStatusCompleted || s == BattleStatusCancelled
}

// Battle is a time-boxed competition among 2 to 8 participants, scored from
// the PNL record store over [StartAt, EndAt).
type Battle struct {
	ID           string         `json:"id" db:"id"`
	Type         BattleType     `json:"type" db:"type"`
	Status       BattleStatus   `json:"status" db:"status"`
	Participants []string       `json:"participants" db:"participants"` // join order; immutable once active
	CreatedBy    string         `json:"created_by" db:"created_by"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	StartAt      time.Time      `json:"start_at" db:"start_at"`
	EndAt        time.Time      `json:"end_at" db:"end_at"`
	Results      []BattleResult `json:"results,omitempty" db:"results"` // non-empty iff completed
}

// Expired reports whether the battle's scoring window has closed at now.
func (b *Battle) Expired(now time.Time) bool {
	return !b.EndAt.After(now)
}

// BattleResult is one participant's final placement in a completed battle.
type BattleResult struct {
	UserID string          `json:"user_id"`
	Score  decimal.Decimal `json:"score"`
	Rank   int             `json:"rank"` // 1-based, no ties
}

// Standing is a participant's live position in a battle. It is derived by
// re-querying the PNL store on demand and is never persisted mid-battle, so
// it always reflects the freshest trade data.
type Standing struct {
	UserID     string          `json:"user_id"`
	Score      decimal.Decimal `json:"score"`
	Rank       int             `json:"rank"`
	TradeCount int             `json:"trade_count"`
}

// UserBattleStats is the cumulative points ledger entry for one user.
// TotalPoints only ever grows; mutation happens exclusively through
// completed-battle settlement.
type UserBattleStats struct {
	UserID        string               `json:"user_id" db:"user_id"`
	TotalPoints   int64                `json:"total_points" db:"total_points"`
	BattlesPlayed int64                `json:"battles_played" db:"battles_played"`
	BattlesWon    int64                `json:"battles_won" db:"battles_won"`
	PointsByType  map[BattleType]int64 `json:"points_by_type"`
}

// PointsFor returns the accumulated points for one battle type.
func (s *UserBattleStats) PointsFor(t BattleType) int64 {
	if s.PointsByType == nil {
		return 0
	}
	return s.PointsByType[t]
}
