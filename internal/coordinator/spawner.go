package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentflow/orchestrator/internal/agentcore"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/observability"
	"github.com/agentflow/orchestrator/internal/pipeline"
)

// agentSpawner adapts agentcore.Core.Spawn to pipeline.StageSpawner.
// The engine only ever sees this narrow interface, never the core
// itself, the same decoupling agentcore keeps from its own Summarizer.
type agentSpawner struct {
	core    *agentcore.Core
	metrics *observability.Metrics
}

var _ pipeline.StageSpawner = (*agentSpawner)(nil)

// SpawnStage starts one agent to execute a pipeline stage, using the
// agent kind and task template the stage definition itself declares. A
// missing agent_kind falls back to the explorer kind, a generalist
// role suited to stages that mostly run commands.
func (s *agentSpawner) SpawnStage(ctx context.Context, run models.PipelineRun, stage models.StageDefinition) (string, error) {
	kind := stage.AgentKind
	if kind == "" {
		kind = models.AgentKindExplorer
	}
	task := stage.Task
	if task == "" {
		task = fmt.Sprintf("run pipeline stage %q for run %s", stage.Name, run.ID)
	}

	agent := &models.Agent{
		Kind: kind,
		Task: task,
		Context: models.AgentContext{
			Custom: map[string]any{"pipeline_run_id": run.ID, "stage": stage.Name},
		},
	}
	spawned, err := s.core.Spawn(ctx, agent, nil)
	if err != nil {
		return "", fmt.Errorf("spawn stage %q agent: %w", stage.Name, err)
	}
	s.metrics.RecordAgentSpawned(string(kind))
	return spawned.ID, nil
}

// spawnScheduled starts the agent a fired Schedule asks for. Kept
// separate from SpawnStage because a schedule fire carries its own
// flat payload shape (schedule_id/agent_kind/task/fired_for) rather
// than a StageDefinition.
func (c *Coordinator) spawnScheduled(ctx context.Context, scheduleID string, kind models.AgentKind, task, firedFor string) (models.Agent, error) {
	ctx, span := c.startSpan(ctx, spanScheduleFire,
		attribute.String("schedule_id", scheduleID),
		attribute.String("agent_kind", string(kind)),
	)
	defer span.End()

	agent := &models.Agent{
		Kind: kind,
		Task: task,
		Context: models.AgentContext{
			Custom: map[string]any{"schedule_id": scheduleID, "fired_for": firedFor},
		},
	}
	spawned, err := c.core.Spawn(ctx, agent, nil)
	if err != nil {
		span.RecordError(err)
		return models.Agent{}, fmt.Errorf("spawn scheduled agent for %q: %w", scheduleID, err)
	}
	c.metrics.RecordAgentSpawned(string(kind))
	c.metrics.RecordScheduleFired()
	return spawned, nil
}
