package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/observability"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "coordinator_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, Config{}), s
}

func TestHandleScheduleFire_SpawnsConfiguredAgent(t *testing.T) {
	c, s := newTestCoordinator(t)
	ctx := context.Background()

	event := models.WebhookEvent{
		ID: "evt-1",
		Payload: map[string]any{
			"schedule_id": "sched-1",
			"agent_kind":  string(models.AgentKindExplorer),
			"task":        "scan for stale worktrees",
			"fired_for":   "2026-08-01T00:00:00Z",
		},
	}

	err := c.handleScheduleFire(ctx, event)
	require.NoError(t, err)

	agents, err := s.ListAgentsByState(ctx, models.AgentStateCreated)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "scan for stale worktrees", agents[0].Task)
	assert.Equal(t, "sched-1", agents[0].Context.Custom["schedule_id"])
}

func TestHandleScheduleFire_RejectsIncompletePayload(t *testing.T) {
	c, _ := newTestCoordinator(t)
	err := c.handleScheduleFire(context.Background(), models.WebhookEvent{ID: "evt-2", Payload: map[string]any{}})
	assert.Error(t, err)
}

func TestAgentSpawner_SpawnStageUsesStageDefinition(t *testing.T) {
	c, s := newTestCoordinator(t)
	spawner := &agentSpawner{core: c.core}

	run := models.PipelineRun{ID: "run-1"}
	stage := models.StageDefinition{Name: "build", AgentKind: models.AgentKindStoryDeveloper, Task: "run the build"}

	agentID, err := spawner.SpawnStage(context.Background(), run, stage)
	require.NoError(t, err)
	assert.NotEmpty(t, agentID)

	agent, err := s.GetAgent(context.Background(), agentID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentKindStoryDeveloper, agent.Kind)
	assert.Equal(t, "build", agent.Context.Custom["stage"])
}

func TestSweepOnce_NoFlaggedAgentsIsNoOp(t *testing.T) {
	c, _ := newTestCoordinator(t)
	err := c.sweepOnce(context.Background(), time.Now().UTC())
	assert.NoError(t, err)
}

func TestHandleScheduleFire_RecordsMetricsAndAudit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "coordinator_metrics_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := observability.NewMetrics("coordinator_test")
	c := New(s, Config{Metrics: m, Auditor: observability.NewAuditor(s)})

	event := models.WebhookEvent{
		ID: "evt-3",
		Payload: map[string]any{
			"schedule_id": "sched-2",
			"agent_kind":  string(models.AgentKindExplorer),
			"task":        "scan for stale worktrees",
			"fired_for":   "2026-08-01T00:00:00Z",
		},
	}
	require.NoError(t, c.handleScheduleFire(context.Background(), event))

	agents, err := s.ListAgentsByState(context.Background(), models.AgentStateCreated)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	history, err := c.Auditor().History(context.Background(), "agent", agents[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "schedule_fire_spawn", history[0].Action)
}
