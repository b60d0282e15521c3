// Package battle implements the battle lifecycle: creation, cancellation,
// expiry-driven completion and settlement, plus the HTTP surface for all
// of it.
//
// A battle is active from the moment it is created and terminal once it
// is completed or cancelled. Every status change funnels through the
// store's conditional update, so overlapping expiry scans and racing
// cancellations resolve to exactly one winner.
package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/ledger"
	"github.com/pnlbot/battle-engine/internal/metrics"
	"github.com/pnlbot/battle-engine/internal/model"
	"github.com/pnlbot/battle-engine/internal/pnl"
	"github.com/pnlbot/battle-engine/internal/rules"
	"github.com/pnlbot/battle-engine/internal/scoring"
	"github.com/pnlbot/battle-engine/internal/store"
)

var (
	// ErrInvalidConfig rejects battle creation with a bad type, roster,
	// or duration. Nothing is persisted.
	ErrInvalidConfig = errors.New("battle: invalid battle configuration")

	// ErrInvalidTransition rejects a status change the lifecycle does not
	// allow, including losing a race against a concurrent transition.
	ErrInvalidTransition = errors.New("battle: invalid status transition")

	// ErrNotAuthorized rejects a cancellation by a user who is neither
	// the battle's creator nor a moderator.
	ErrNotAuthorized = errors.New("battle: requester not authorized")
)

// Engine drives battles through their lifecycle.
type Engine struct {
	store      store.Store
	scorer     *scoring.Engine
	ledger     *ledger.Ledger
	moderators map[string]bool
}

// NewEngine creates a battle engine. Moderators may cancel any battle;
// ids are canonicalized like every other user id.
func NewEngine(st store.Store, scorer *scoring.Engine, lg *ledger.Ledger, moderators []string) *Engine {
	mods := make(map[string]bool, len(moderators))
	for _, m := range moderators {
		if id := pnl.CanonicalUserID(m); id != "" {
			mods[id] = true
		}
	}
	return &Engine{store: st, scorer: scorer, ledger: lg, moderators: mods}
}

// Create validates the configuration and persists a new active battle
// whose scoring window is [now, now+duration).
func (e *Engine) Create(ctx context.Context, typ model.BattleType, createdBy string, participants []string, duration time.Duration) (*model.Battle, error) {
	if err := rules.ValidateType(typ); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := rules.ValidateDuration(duration); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	createdBy = pnl.CanonicalUserID(createdBy)
	if createdBy == "" {
		return nil, fmt.Errorf("%w: created_by is required", ErrInvalidConfig)
	}

	// Canonicalize before the duplicate check so "@Alice" and "alice"
	// cannot enter the same battle twice.
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = pnl.CanonicalUserID(p)
	}
	if err := rules.ValidateParticipants(ids); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	now := time.Now().UTC()
	b := &model.Battle{
		ID:           uuid.NewString(),
		Type:         typ,
		Status:       model.BattleStatusActive,
		Participants: ids,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		StartAt:      now,
		EndAt:        now.Add(duration),
	}
	if err := e.store.InsertBattle(ctx, b); err != nil {
		return nil, fmt.Errorf("battle: insert: %w", err)
	}

	metrics.BattlesCreated.WithLabelValues(string(typ)).Inc()
	metrics.ActiveBattles.Inc()
	slog.Info("battle created",
		"battle_id", b.ID,
		"type", b.Type,
		"created_by", b.CreatedBy,
		"participants", len(b.Participants),
		"ends_at", b.EndAt,
	)
	return b, nil
}

// Cancel aborts an active battle before its window closes. Only the
// creator or a moderator may cancel; a battle that has expired, completed
// or been cancelled stays as it is.
func (e *Engine) Cancel(ctx context.Context, battleID, requesterID string) error {
	requester := pnl.CanonicalUserID(requesterID)

	b, err := e.store.GetBattle(ctx, battleID)
	if err != nil {
		return err
	}
	if b.CreatedBy != requester && !e.moderators[requester] {
		return fmt.Errorf("cancel battle %s by %s: %w", battleID, requester, ErrNotAuthorized)
	}

	now := time.Now().UTC()
	if b.Status != model.BattleStatusActive || b.Expired(now) {
		return fmt.Errorf("cancel battle %s in status %s: %w", battleID, b.Status, ErrInvalidTransition)
	}

	err = e.store.UpdateBattleStatus(ctx, battleID,
		model.BattleStatusActive, model.BattleStatusCancelled, nil)
	if errors.Is(err, store.ErrStatusConflict) {
		// A concurrent completion or cancellation won the swap.
		return fmt.Errorf("cancel battle %s: %w", battleID, ErrInvalidTransition)
	}
	if err != nil {
		return err
	}

	metrics.BattlesCancelled.Inc()
	metrics.ActiveBattles.Dec()
	slog.Info("battle cancelled", "battle_id", battleID, "requested_by", requester)
	return nil
}

// Get returns one battle by id.
func (e *Engine) Get(ctx context.Context, battleID string) (*model.Battle, error) {
	return e.store.GetBattle(ctx, battleID)
}

// ListActive returns all currently active battles, soonest-ending first.
func (e *Engine) ListActive(ctx context.Context) ([]model.Battle, error) {
	return e.store.ListActiveBattles(ctx)
}

// History returns the battles a user fought in, newest first.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]model.Battle, error) {
	if limit <= 0 {
		limit = 10
	}
	return e.store.ListBattlesByParticipant(ctx, pnl.CanonicalUserID(userID), limit)
}

// Standings recomputes the live ranking of a battle from the PNL store.
// It is a derived view: nothing is persisted, and for a completed battle
// it reflects the records and rates visible now, not the frozen results.
func (e *Engine) Standings(ctx context.Context, battleID string) ([]model.Standing, error) {
	b, err := e.store.GetBattle(ctx, battleID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scores := make(map[string]decimal.Decimal, len(b.Participants))
	counts := make(map[string]int, len(b.Participants))
	for _, p := range b.Participants {
		score, err := e.scorer.ScoreAt(ctx, b, p, now)
		if err != nil {
			return nil, err
		}
		count, err := e.scorer.TradeCount(ctx, b, p)
		if err != nil {
			return nil, err
		}
		scores[p] = score
		counts[p] = count
	}

	results := rankParticipants(b.Participants, scores)
	standings := make([]model.Standing, len(results))
	for i, r := range results {
		standings[i] = model.Standing{
			UserID:     r.UserID,
			Score:      r.Score,
			Rank:       r.Rank,
			TradeCount: counts[r.UserID],
		}
	}
	return standings, nil
}

// ScanExpired finds active battles whose window closed at or before now
// and completes each one. Per-battle failures are logged and retried on
// the next scan; only a failure to list battles fails the scan itself.
// It returns how many battles this scan completed.
func (e *Engine) ScanExpired(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	expired, err := e.store.ListExpiredBattles(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("battle: list expired: %w", err)
	}

	completed := 0
	for i := range expired {
		won, err := e.complete(ctx, &expired[i], now)
		if err != nil {
			slog.Error("battle: completion failed, will retry next scan",
				"battle_id", expired[i].ID, "error", err)
			continue
		}
		if won {
			completed++
		}
	}
	if len(expired) > 0 {
		slog.Info("expiry scan finished", "expired", len(expired), "completed", completed)
	}
	return completed, nil
}

// complete is the only path from active to completed. It scores and ranks
// every participant, then swaps the status conditionally; losing the
// swap to a concurrent completion or cancellation is not an error. The
// swap winner settles the points, so points are awarded exactly once.
// Returns whether this call performed the completion.
func (e *Engine) complete(ctx context.Context, b *model.Battle, now time.Time) (bool, error) {
	scores := make(map[string]decimal.Decimal, len(b.Participants))
	for _, p := range b.Participants {
		score, err := e.scorer.ScoreAt(ctx, b, p, now)
		if err != nil {
			// Completion never aborts on a scoring failure; the
			// participant scores zero for this battle.
			slog.Warn("battle: scoring failed, participant scored zero",
				"battle_id", b.ID, "user_id", p, "error", err)
			metrics.ScoringDegraded.Inc()
			score = decimal.Decimal{}
		}
		scores[p] = score
	}
	results := rankParticipants(b.Participants, scores)

	err := e.store.UpdateBattleStatus(ctx, b.ID,
		model.BattleStatusActive, model.BattleStatusCompleted, results)
	if errors.Is(err, store.ErrStatusConflict) {
		current, gerr := e.store.GetBattle(ctx, b.ID)
		if gerr != nil {
			return false, gerr
		}
		switch current.Status {
		case model.BattleStatusCompleted:
			metrics.DuplicateCompletions.Inc()
			slog.Info("battle: already completed by a concurrent scan", "battle_id", b.ID)
			return false, nil
		case model.BattleStatusCancelled:
			slog.Info("battle: cancelled before completion", "battle_id", b.ID)
			return false, nil
		default:
			return false, err
		}
	}
	if err != nil {
		return false, err
	}

	// This call won the swap. Settlement failures are logged, never
	// retried here: the marker inside Settle keeps any later manual
	// replay from double-awarding.
	if err := e.ledger.Settle(ctx, b, results); err != nil {
		slog.Error("battle: settlement failed after completion",
			"battle_id", b.ID, "error", err)
	}

	metrics.BattlesCompleted.WithLabelValues(string(b.Type)).Inc()
	metrics.ActiveBattles.Dec()
	slog.Info("battle completed",
		"battle_id", b.ID,
		"type", b.Type,
		"winner", results[0].UserID,
		"winning_score", results[0].Score.String(),
	)
	return true, nil
}

// rankParticipants orders scores descending into 1-based ranks. Equal
// scores break toward the earlier joiner, so ranks are always distinct.
func rankParticipants(participants []string, scores map[string]decimal.Decimal) []model.BattleResult {
	joinIdx := make(map[string]int, len(participants))
	results := make([]model.BattleResult, len(participants))
	for i, p := range participants {
		joinIdx[p] = i
		results[i] = model.BattleResult{UserID: p, Score: scores[p]}
	}

	sort.Slice(results, func(i, j int) bool {
		if c := results[i].Score.Cmp(results[j].Score); c != 0 {
			return c > 0
		}
		return joinIdx[results[i].UserID] < joinIdx[results[j].UserID]
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
