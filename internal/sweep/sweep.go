// Package sweep drives battle completion on a fixed interval.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/pnlbot/battle-engine/internal/battle"
)

// Sweeper periodically closes battles whose scoring window has ended. It is
// the only writer that moves battles to completed, and it is safe to run on
// several instances at once: the engine's status CAS lets exactly one of
// them settle each battle.
type Sweeper struct {
	engine   *battle.Engine
	interval time.Duration
	logger   *slog.Logger
}

// New creates a sweeper that scans for expired battles every interval.
func New(engine *battle.Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// Run scans once immediately, then on every tick until ctx is cancelled.
// A failed scan is logged and retried on the next tick, never fatal.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper started", "interval", s.interval)

	if err := s.Tick(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Tick runs one scan at the given instant.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) error {
	_, err := s.engine.ScanExpired(ctx, now)
	return err
}
