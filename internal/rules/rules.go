// Package rules holds the battle configuration rules: which battle types
// exist, how long a battle may run, how many users may fight, and how
// finishing ranks convert into points.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pnlbot/battle-engine/internal/model"
)

const (
	// MinParticipants and MaxParticipants bound the roster size.
	MinParticipants = 2
	MaxParticipants = 8

	// MinDuration and MaxDuration bound the scoring window length.
	MinDuration = 15 * time.Minute
	MaxDuration = 4 * 7 * 24 * time.Hour // 4 weeks
)

var validTypes = map[model.BattleType]bool{
	model.BattleTypeProfit:     true,
	model.BattleTypeTradeCount: true,
}

// durationRegex matches a compact duration string: {value}{unit}
// Example: 30m, 2h, 1d, 1w
var durationRegex = regexp.MustCompile(`^(\d+)([mhdw])$`)

var (
	ErrUnknownType         = errors.New("rules: unknown battle type")
	ErrInvalidDuration     = errors.New("rules: battle duration out of bounds")
	ErrInvalidParticipants = errors.New("rules: invalid participant roster")
)

// pointsByRank maps a 1-based finishing rank to awarded points. Ranks past
// the table length never occur because rosters cap at MaxParticipants.
var pointsByRank = [MaxParticipants]int64{100, 75, 50, 30, 20, 10, 10, 10}

// PointsForRank returns the points awarded for a 1-based finishing rank.
// Ranks outside [1, MaxParticipants] award nothing.
func PointsForRank(rank int) int64 {
	if rank < 1 || rank > MaxParticipants {
		return 0
	}
	return pointsByRank[rank-1]
}

// ParseType validates a battle type string. The legacy alias "trade" maps
// to trade_count (the trade-war mode kept its short command name).
func ParseType(raw string) (model.BattleType, error) {
	t := model.BattleType(raw)
	if raw == "trade" {
		t = model.BattleTypeTradeCount
	}
	if err := ValidateType(t); err != nil {
		return "", err
	}
	return t, nil
}

// ValidateType checks that a battle type is one the engine can score.
func ValidateType(t model.BattleType) error {
	if !validTypes[t] {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}

// ParseDuration parses a compact duration string like "30m", "2h", "1d" or
// "1w" and validates it against the battle duration bounds.
func ParseDuration(raw string) (time.Duration, error) {
	matches := durationRegex.FindStringSubmatch(raw)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q (expected {value}{m|h|d|w})", ErrInvalidDuration, raw)
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}

	var unit time.Duration
	switch matches[2] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}

	d := time.Duration(value) * unit
	if err := ValidateDuration(d); err != nil {
		return 0, err
	}
	return d, nil
}

// ValidateDuration checks a scoring-window length against the bounds.
func ValidateDuration(d time.Duration) error {
	if d < MinDuration || d > MaxDuration {
		return fmt.Errorf("%w: %s (allowed %s to %s)",
			ErrInvalidDuration, d, MinDuration, MaxDuration)
	}
	return nil
}

// ValidateParticipants checks the roster size and rejects blank or
// duplicate ids. The slice order is significant: it is the join order used to
// break score ties, so callers must not reorder it.
func ValidateParticipants(participants []string) error {
	if len(participants) < MinParticipants || len(participants) > MaxParticipants {
		return fmt.Errorf("%w: got %d users (allowed %d to %d)",
			ErrInvalidParticipants, len(participants), MinParticipants, MaxParticipants)
	}

	seen := make(map[string]bool, len(participants))
	for _, id := range participants {
		if id == "" {
			return fmt.Errorf("%w: blank user id", ErrInvalidParticipants)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate user %s", ErrInvalidParticipants, id)
		}
		seen[id] = true
	}
	return nil
}
