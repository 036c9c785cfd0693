package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

type fakeSpawner struct {
	n int
}

func (f *fakeSpawner) SpawnStage(ctx context.Context, run models.PipelineRun, stage models.StageDefinition) (string, error) {
	f.n++
	return fmt.Sprintf("agent-%d", f.n), nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeSpawner) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pipeline_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	spawner := &fakeSpawner{}
	return New(s, spawner), s, spawner
}

func linearDefinition() models.PipelineDefinition {
	return models.PipelineDefinition{
		Name: "linear",
		Stages: []models.StageDefinition{
			{Name: "build", AgentKind: models.AgentKindExplorer, Task: "build", OnFailure: models.FailurePolicyHalt},
			{Name: "test", AgentKind: models.AgentKindExplorer, Task: "test", DependsOn: []string{"build"}, OnFailure: models.FailurePolicyHalt},
		},
	}
}

func TestEngine_StartRunDispatchesRootStage(t *testing.T) {
	e, s, spawner := newTestEngine(t)
	ctx := context.Background()
	def := linearDefinition()

	run, err := e.StartRun(ctx, def, "pipeline-1", nil, nil, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, 1, spawner.n)

	stages, err := s.ListStages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "build", stages[0].Name)
	assert.Equal(t, models.StageStatusRunning, stages[0].Status)
}

func TestEngine_CompleteStageDispatchesDependent(t *testing.T) {
	e, s, spawner := newTestEngine(t)
	ctx := context.Background()
	def := linearDefinition()

	run, err := e.StartRun(ctx, def, "pipeline-1", nil, nil, EvalContext{})
	require.NoError(t, err)

	require.NoError(t, e.CompleteStage(ctx, run, def, "build", models.StageStatusSucceeded, nil, EvalContext{}))
	assert.Equal(t, 2, spawner.n)

	stages, err := s.ListStages(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 2)

	require.NoError(t, e.CompleteStage(ctx, run, def, "test", models.StageStatusSucceeded, nil, EvalContext{}))

	finished, err := s.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineRunStatusSucceeded, finished.Status)
}

func TestEngine_HaltOnFailureStopsTheRunWithoutDispatchingDependents(t *testing.T) {
	e, s, spawner := newTestEngine(t)
	ctx := context.Background()
	def := linearDefinition()

	run, err := e.StartRun(ctx, def, "pipeline-1", nil, nil, EvalContext{})
	require.NoError(t, err)

	reason := "compile error"
	require.NoError(t, e.CompleteStage(ctx, run, def, "build", models.StageStatusFailed, &reason, EvalContext{}))

	assert.Equal(t, 1, spawner.n) // "test" never dispatched

	finished, err := s.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineRunStatusFailed, finished.Status)
}

func TestEngine_RollbackSkipsUnreachableDependentsAndFailsRun(t *testing.T) {
	e, s, spawner := newTestEngine(t)
	ctx := context.Background()
	def := models.PipelineDefinition{
		Name: "rollback",
		Stages: []models.StageDefinition{
			{Name: "a", AgentKind: models.AgentKindExplorer, Task: "a"},
			{Name: "b", AgentKind: models.AgentKindExplorer, Task: "b", DependsOn: []string{"a"}, OnFailure: models.FailurePolicyRollback, RollbackTo: "a"},
			{Name: "c", AgentKind: models.AgentKindExplorer, Task: "c", DependsOn: []string{"b"}},
		},
	}

	run, err := e.StartRun(ctx, def, "pipeline-1", nil, nil, EvalContext{})
	require.NoError(t, err)
	require.NoError(t, e.CompleteStage(ctx, run, def, "a", models.StageStatusSucceeded, nil, EvalContext{}))

	reason := "flaky dependency"
	require.NoError(t, e.CompleteStage(ctx, run, def, "b", models.StageStatusFailed, &reason, EvalContext{}))

	stages, err := s.ListStages(ctx, run.ID)
	require.NoError(t, err)
	byName := make(map[string]models.PipelineStage, len(stages))
	for _, st := range stages {
		byName[st.Name] = st
	}
	assert.Equal(t, models.StageStatusSkipped, byName["c"].Status, "c can only be reached through failed stage b")
	assert.Equal(t, models.StageStatusRunning, byName["a"].Status, "rollback target a is reset and re-dispatched for the compensating run")
	assert.Equal(t, 3, spawner.n) // a dispatched, b dispatched, a re-dispatched by the rollback; c never was

	finished, err := s.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineRunStatusFailed, finished.Status)
}

func TestEngine_ApprovalGateHoldsStageUntilResolved(t *testing.T) {
	e, s, spawner := newTestEngine(t)
	ctx := context.Background()
	def := models.PipelineDefinition{
		Name: "gated",
		Stages: []models.StageDefinition{
			{
				Name: "merge", AgentKind: models.AgentKindPrShepherd, Task: "merge",
				RequiresApproval: &models.ApprovalDefinition{Approvers: []string{"alice", "bob"}, TimeoutSeconds: 3600, TimeoutAction: models.TimeoutActionReject},
			},
		},
	}

	run, err := e.StartRun(ctx, def, "pipeline-1", nil, nil, EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, 0, spawner.n) // held behind approval, not dispatched yet

	stages, err := s.ListStages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, models.StageStatusWaitingApproval, stages[0].Status)

	require.NoError(t, e.ApprovalResolved(ctx, run, def, "merge", true, EvalContext{}))
	assert.Equal(t, 1, spawner.n)
}

func TestEngine_WhenClauseFalseSkipsStage(t *testing.T) {
	e, s, spawner := newTestEngine(t)
	ctx := context.Background()
	def := models.PipelineDefinition{
		Name: "conditional",
		Stages: []models.StageDefinition{
			{Name: "deploy", AgentKind: models.AgentKindExplorer, Task: "deploy", When: &models.WhenClause{Branch: []string{"main"}}},
		},
	}

	run, err := e.StartRun(ctx, def, "pipeline-1", nil, nil, EvalContext{Branch: "feature/x"})
	require.NoError(t, err)
	assert.Equal(t, 0, spawner.n)

	stages, err := s.ListStages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, models.StageStatusSkipped, stages[0].Status)
}
