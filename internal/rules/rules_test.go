package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/pnlbot/battle-engine/internal/model"
)

func TestParseDuration_Valid(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"15m", 15 * time.Minute},
		{"30m", 30 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"3d", 72 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"4w", 4 * 7 * 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.raw)
		if err != nil {
			t.Fatalf("ParseDuration(%q): unexpected error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	cases := []string{
		"",
		"30",      // missing unit
		"m",       // missing value
		"30s",     // unsupported unit
		"2.5h",    // fractional value
		"-1h",     // negative
		"abc",     // garbage
		"10m ",    // trailing space
		"1h30m",   // composite
		"14m",     // below minimum
		"5w",      // above maximum
		"999999d", // way above maximum
	}
	for _, raw := range cases {
		if _, err := ParseDuration(raw); err == nil {
			t.Errorf("ParseDuration(%q): expected error, got nil", raw)
		} else if !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("ParseDuration(%q): error = %v, want ErrInvalidDuration", raw, err)
		}
	}
}

func TestValidateDuration_Bounds(t *testing.T) {
	if err := ValidateDuration(MinDuration); err != nil {
		t.Errorf("minimum duration rejected: %v", err)
	}
	if err := ValidateDuration(MaxDuration); err != nil {
		t.Errorf("maximum duration rejected: %v", err)
	}
	if err := ValidateDuration(MinDuration - time.Second); err == nil {
		t.Error("duration below minimum accepted")
	}
	if err := ValidateDuration(MaxDuration + time.Second); err == nil {
		t.Error("duration above maximum accepted")
	}
}

func TestParseType(t *testing.T) {
	cases := []struct {
		raw     string
		want    model.BattleType
		wantErr bool
	}{
		{"profit", model.BattleTypeProfit, false},
		{"trade_count", model.BattleTypeTradeCount, false},
		{"trade", model.BattleTypeTradeCount, false},
		{"", "", true},
		{"PROFIT", "", true},
		{"volume", "", true},
	}
	for _, tc := range cases {
		got, err := ParseType(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseType(%q): expected error, got %q", tc.raw, got)
			} else if !errors.Is(err, ErrUnknownType) {
				t.Errorf("ParseType(%q): error = %v, want ErrUnknownType", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseType(%q): unexpected error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Errorf("ParseType(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestValidateParticipants(t *testing.T) {
	cases := []struct {
		name         string
		participants []string
		wantErr      bool
	}{
		{"two users", []string{"alice", "bob"}, false},
		{"eight users", []string{"a", "b", "c", "d", "e", "f", "g", "h"}, false},
		{"solo", []string{"alice"}, true},
		{"empty", nil, true},
		{"nine users", []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}, true},
		{"duplicate", []string{"alice", "bob", "alice"}, true},
		{"blank id", []string{"alice", ""}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParticipants(tc.participants)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tc.wantErr && err != nil && !errors.Is(err, ErrInvalidParticipants) {
				t.Errorf("error = %v, want ErrInvalidParticipants", err)
			}
		})
	}
}

func TestPointsForRank(t *testing.T) {
	cases := []struct {
		rank int
		want int64
	}{
		{1, 100},
		{2, 75},
		{3, 50},
		{4, 30},
		{5, 20},
		{6, 10},
		{7, 10},
		{8, 10},
		{0, 0},
		{9, 0},
		{-1, 0},
	}
	for _, tc := range cases {
		if got := PointsForRank(tc.rank); got != tc.want {
			t.Errorf("PointsForRank(%d) = %d, want %d", tc.rank, got, tc.want)
		}
	}
}
