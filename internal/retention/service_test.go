package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/config"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.DefaultConfig(filepath.Join(t.TempDir(), "retention_test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReclaimStaleWorktreesRemovesUnboundWorktree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wt := &models.Worktree{Name: "wt-1", Path: "/tmp/wt-1", Branch: "feat/x", BaseBranch: "main", Status: models.WorktreeStatusStale}
	require.NoError(t, s.CreateWorktree(ctx, wt))

	svc := New(s, config.RetentionConfig{WorktreeTTL: 0, WebhookEventTTL: time.Hour, CleanupInterval: time.Hour})
	svc.reclaimStaleWorktrees(ctx)

	_, err := s.GetWorktree(ctx, wt.ID)
	assert.Error(t, err, "worktree should have been removed")
}

func TestReclaimStaleWorktreesSkipsBoundWorktree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wt := &models.Worktree{Name: "wt-2", Path: "/tmp/wt-2", Branch: "feat/y", BaseBranch: "main", Status: models.WorktreeStatusStale}
	require.NoError(t, s.CreateWorktree(ctx, wt))

	agent := &models.Agent{Kind: models.AgentKindExplorer, Task: "t", WorktreeID: &wt.ID}
	require.NoError(t, s.CreateAgent(ctx, agent))

	svc := New(s, config.RetentionConfig{WorktreeTTL: 0, WebhookEventTTL: time.Hour, CleanupInterval: time.Hour})
	svc.reclaimStaleWorktrees(ctx)

	got, err := s.GetWorktree(ctx, wt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorktreeStatusRemoved, got.Status, "status flips even though deletion is skipped")
}

func TestReclaimStaleWorktreesRespectsTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wt := &models.Worktree{Name: "wt-3", Path: "/tmp/wt-3", Branch: "feat/z", BaseBranch: "main", Status: models.WorktreeStatusStale}
	require.NoError(t, s.CreateWorktree(ctx, wt))

	svc := New(s, config.RetentionConfig{WorktreeTTL: 24 * time.Hour, WebhookEventTTL: time.Hour, CleanupInterval: time.Hour})
	svc.reclaimStaleWorktrees(ctx)

	got, err := s.GetWorktree(ctx, wt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorktreeStatusStale, got.Status, "freshly-stale worktree not yet past its TTL")
}

func TestPurgeOldWebhookEventsRemovesTerminalEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	event := &models.WebhookEvent{DeliveryID: "dlv-1", Type: "push", Status: models.WebhookEventStatusCompleted, MaxRetries: 3}
	require.NoError(t, s.EnqueueWebhookEvent(ctx, event))
	require.NoError(t, s.AckWebhookEvent(ctx, event.ID))

	svc := New(s, config.RetentionConfig{WorktreeTTL: time.Hour, WebhookEventTTL: 0, CleanupInterval: time.Hour})
	time.Sleep(5 * time.Millisecond)
	svc.purgeOldWebhookEvents(ctx)

	_, err := s.GetWebhookEventByDeliveryID(ctx, "dlv-1")
	assert.Error(t, err)
}

func TestStartStopIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, config.RetentionConfig{WorktreeTTL: time.Hour, WebhookEventTTL: time.Hour, CleanupInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	svc.Start(ctx) // second call is a no-op
	svc.Stop()
}
