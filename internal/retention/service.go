// Package retention periodically enforces the data-retention policy:
// reclaiming disk space held by Stale worktrees and purging terminal
// webhook_events rows past their TTL, on a start/stop/ticker
// background loop.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/config"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// Service runs the background retention loop.
type Service struct {
	cfg   config.RetentionConfig
	store *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a retention Service over s.
func New(s *store.Store, cfg config.RetentionConfig) *Service {
	return &Service{cfg: cfg, store: s}
}

// Start launches the background cleanup loop. Safe to call once.
func (svc *Service) Start(ctx context.Context) {
	if svc.cancel != nil {
		return
	}
	ctx, svc.cancel = context.WithCancel(ctx)
	svc.done = make(chan struct{})

	go svc.run(ctx)

	slog.Info("retention service started",
		"worktree_ttl", svc.cfg.WorktreeTTL,
		"webhook_event_ttl", svc.cfg.WebhookEventTTL,
		"interval", svc.cfg.CleanupInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (svc *Service) Stop() {
	if svc.cancel == nil {
		return
	}
	svc.cancel()
	<-svc.done
	slog.Info("retention service stopped")
}

func (svc *Service) run(ctx context.Context) {
	defer close(svc.done)

	svc.runOnce(ctx)

	ticker := time.NewTicker(svc.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.runOnce(ctx)
		}
	}
}

func (svc *Service) runOnce(ctx context.Context) {
	svc.reclaimStaleWorktrees(ctx)
	svc.purgeOldWebhookEvents(ctx)
}

// reclaimStaleWorktrees removes worktrees that have been Stale for at
// least WorktreeTTL and still have no agent bound to them. A worktree
// that is still bound is left for a later pass (its owning agent has
// not released it yet).
func (svc *Service) reclaimStaleWorktrees(ctx context.Context) {
	stale, err := svc.store.ListStaleWorktrees(ctx)
	if err != nil {
		slog.Error("retention: list stale worktrees failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-svc.cfg.WorktreeTTL)
	removed := 0
	for _, w := range stale {
		if w.UpdatedAt.After(cutoff) {
			continue
		}
		if err := svc.store.SetWorktreeStatus(ctx, w.ID, models.WorktreeStatusRemoved); err != nil {
			slog.Error("retention: mark worktree removed failed", "worktree_id", w.ID, "error", err)
			continue
		}
		if err := svc.store.RemoveWorktree(ctx, w.ID); err != nil {
			if apperr.Is(err, apperr.KindInvariantViolation) {
				slog.Info("retention: worktree still bound, skipping removal", "worktree_id", w.ID)
				continue
			}
			slog.Error("retention: remove worktree failed", "worktree_id", w.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("retention: reclaimed stale worktrees", "count", removed)
	}
}

func (svc *Service) purgeOldWebhookEvents(ctx context.Context) {
	cutoff := time.Now().Add(-svc.cfg.WebhookEventTTL)
	count, err := svc.store.PurgeWebhookEventsOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention: purge webhook events failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: purged old webhook events", "count", count)
	}
}
