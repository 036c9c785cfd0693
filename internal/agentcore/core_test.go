package agentcore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "agentcore_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, nil)
}

func TestCore_SpawnStartsInCreated(t *testing.T) {
	c := newTestCore(t)

	agent, err := c.Spawn(context.Background(), &models.Agent{
		Kind: models.AgentKindExplorer,
		Task: "explore the thing",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateCreated, agent.State)
}

func TestCore_AdvanceWithoutDependenciesSucceeds(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	agent, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "t"}, nil)
	require.NoError(t, err)

	advanced, err := c.Advance(ctx, agent.ID, TriggerDependenciesReady)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateInitializing, advanced.State)
}

func TestCore_AdvanceBlockedByIncompleteDependency(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	dep, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "dep"}, nil)
	require.NoError(t, err)

	waiter, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindStoryDeveloper, Task: "waits"}, []models.AgentDependency{
		{DependsOn: dep.ID, Kind: models.DependencyRequired},
	})
	require.NoError(t, err)

	_, err = c.Advance(ctx, waiter.ID, TriggerDependenciesReady)
	assert.True(t, apperr.Is(err, apperr.KindDependencyNotReady))
}

func TestCore_IllegalTransitionReportsInvariantViolation(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	agent, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "t"}, nil)
	require.NoError(t, err)

	_, err = c.Advance(ctx, agent.ID, TriggerComplete)
	assert.True(t, apperr.Is(err, apperr.KindInvariantViolation))
}

func TestCore_PropagateCompletionAdvancesReadyChild(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	parent, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "parent"}, nil)
	require.NoError(t, err)

	child, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindStoryDeveloper, Task: "child"}, []models.AgentDependency{
		{DependsOn: parent.ID, Kind: models.DependencyRequired},
	})
	require.NoError(t, err)

	// Drive the parent to Completed via its legal path.
	_, err = c.Advance(ctx, parent.ID, TriggerDependenciesReady)
	require.NoError(t, err)
	_, err = c.Advance(ctx, parent.ID, TriggerInitialized)
	require.NoError(t, err)
	_, err = c.Advance(ctx, parent.ID, TriggerComplete)
	require.NoError(t, err)

	require.NoError(t, c.PropagateCompletion(ctx, parent.ID))

	got, err := c.store.GetAgent(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateInitializing, got.State)
}

func TestCore_FailRecordsErrorMessage(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	agent, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "t"}, nil)
	require.NoError(t, err)
	_, err = c.Advance(ctx, agent.ID, TriggerDependenciesReady)
	require.NoError(t, err)
	_, err = c.Advance(ctx, agent.ID, TriggerInitialized)
	require.NoError(t, err)

	failed, err := c.Fail(ctx, agent.ID, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateFailed, failed.State)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, assert.AnError.Error(), *failed.ErrorMessage)
}

func TestCore_TerminateIsIdempotentOnTerminalAgents(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	agent, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "t"}, nil)
	require.NoError(t, err)

	first, err := c.Terminate(ctx, agent.ID, "operator requested shutdown")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateTerminated, first.State)

	second, err := c.Terminate(ctx, agent.ID, "operator requested shutdown again")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateTerminated, second.State)
}

func TestCore_SweepFlagsAgentsPastTimeout(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	agent, err := c.Spawn(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "t"}, nil)
	require.NoError(t, err)
	_, err = c.Advance(ctx, agent.ID, TriggerDependenciesReady)
	require.NoError(t, err)
	running, err := c.Advance(ctx, agent.ID, TriggerInitialized)
	require.NoError(t, err)

	cfg := DefaultStuckSweepConfig()
	future := running.UpdatedAt.Add(cfg.RunningTimeout + 1)

	flagged, err := c.Sweep(ctx, cfg, future)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, agent.ID, flagged[0].AgentID)
	assert.Equal(t, models.StuckNoProgress, flagged[0].Kind)

	escalate, err := c.ShouldEscalate(ctx, cfg, agent.ID, models.StuckNoProgress)
	require.NoError(t, err)
	assert.False(t, escalate) // only flagged once, below MaxRecoveryAttempts
}
