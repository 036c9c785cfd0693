package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// LoopConfig tunes the scheduler's polling cadence.
type LoopConfig struct {
	TickInterval time.Duration
}

// DefaultLoopConfig evaluates schedules once per minute, matching cron's
// own minute-level resolution.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{TickInterval: time.Minute}
}

// Run ticks the scheduler on a fixed interval until ctx is cancelled.
// Mirrors the single-goroutine, ctx-driven loop shape used across the
// orchestrator's other long-running components (eventqueue.Pool).
func (s *Scheduler) Run(ctx context.Context, cfg LoopConfig) {
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler loop stopping")
			return
		case now := <-ticker.C:
			fired, err := s.Tick(ctx, now.UTC())
			if err != nil {
				slog.Error("scheduler tick failed", "error", err)
				continue
			}
			if fired > 0 {
				slog.Info("schedules fired", "count", fired)
			}
		}
	}
}
