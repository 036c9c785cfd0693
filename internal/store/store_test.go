package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.DefaultConfig(filepath.Join(t.TempDir(), "store_test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpdateAgentStateRejectsStaleExpectedFrom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{Kind: models.AgentKindExplorer, Task: "explore", State: models.AgentStateCreated}
	require.NoError(t, s.CreateAgent(ctx, agent))

	require.NoError(t, s.UpdateAgentState(ctx, agent.ID, models.AgentStateCreated, models.AgentStateInitializing, "dependencies_ready", nil, nil))

	err := s.UpdateAgentState(ctx, agent.ID, models.AgentStateCreated, models.AgentStateInitializing, "dependencies_ready", nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "stale expectedFrom must report conflict, got %v", err)

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateInitializing, got.State)
}

func TestSetScheduleEnabledFlipsFlagAndExcludesFromDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	sch := &models.Schedule{
		Name:       "nightly-sweep",
		Expression: "0 2 * * *",
		AgentKind:  models.AgentKindExplorer,
		Task:       "sweep",
		Enabled:    true,
		MissedRun:  models.MissedRunSkip,
		NextRun:    past,
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))

	due, err := s.ListDueSchedules(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.SetScheduleEnabled(ctx, sch.ID, false))

	due, err = s.ListDueSchedules(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due, "disabled schedule must not be reported as due")
}

func TestSetScheduleEnabledUnknownIDIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SetScheduleEnabled(context.Background(), "does-not-exist", false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRepositoryHasActiveLockTracksCreatingAndMerging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	locked, err := s.RepositoryHasActiveLock(ctx, "org/repo")
	require.NoError(t, err)
	assert.False(t, locked)

	item := &models.PrQueueItem{
		Epic: "epic-1", Repository: "org/repo", WorktreeID: "wt-1", Branch: "feat/x",
		Title: "add feature", Status: models.PrQueueStatusCreating, MergeStrategy: models.MergeStrategySquash,
	}
	require.NoError(t, s.CreatePrQueueItem(ctx, item))

	locked, err = s.RepositoryHasActiveLock(ctx, "org/repo")
	require.NoError(t, err)
	assert.True(t, locked, "a Creating item holds the repository lock")

	require.NoError(t, s.SetPrQueueStatus(ctx, item.ID, models.PrQueueStatusMerged))

	locked, err = s.RepositoryHasActiveLock(ctx, "org/repo")
	require.NoError(t, err)
	assert.False(t, locked, "a Merged item releases the repository lock")
}
