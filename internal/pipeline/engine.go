package pipeline

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// StageSpawner dispatches the agent that performs one stage's work.
// The engine depends only on this narrow interface so it never needs
// to know how agents are constructed — that wiring (agent kind, task
// templating, dependency edges) lives at the coordinator's composition
// root, the same separation agentcore keeps from its Summarizer.
type StageSpawner interface {
	SpawnStage(ctx context.Context, run models.PipelineRun, stage models.StageDefinition) (agentID string, err error)
}

// Engine drives one or more PipelineRuns against a validated
// PipelineDefinition: round-based dispatch, approval gating, and
// rollback on failure.
type Engine struct {
	store   *store.Store
	spawner StageSpawner
}

// New builds an Engine over the given store and stage spawner.
func New(s *store.Store, spawner StageSpawner) *Engine {
	return &Engine{store: s, spawner: spawner}
}

// StartRun creates a new run and dispatches every initially-ready
// stage (those with no depends_on).
func (e *Engine) StartRun(ctx context.Context, def models.PipelineDefinition, pipelineID string, triggerCtx map[string]any, variables map[string]string, evalCtx EvalContext) (models.PipelineRun, error) {
	run := &models.PipelineRun{
		PipelineID: pipelineID,
		TriggerCtx: triggerCtx,
		Variables:  variables,
		Status:     models.PipelineRunStatusRunning,
	}
	if err := e.store.CreatePipelineRun(ctx, run); err != nil {
		return models.PipelineRun{}, err
	}
	created, err := e.store.GetPipelineRun(ctx, run.ID)
	if err != nil {
		return models.PipelineRun{}, err
	}
	if err := e.DispatchReady(ctx, created, def, evalCtx); err != nil {
		return models.PipelineRun{}, err
	}
	return created, nil
}

// stageStatuses indexes a run's current PipelineStage rows by name.
func (e *Engine) stageStatuses(ctx context.Context, runID string) (map[string]models.PipelineStage, error) {
	stages, err := e.store.ListStages(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.PipelineStage, len(stages))
	for _, st := range stages {
		out[st.Name] = st
	}
	return out, nil
}

// satisfiesDependency reports whether a completed stage's outcome lets
// its dependents proceed: Succeeded and Skipped always do; Failed only
// does under the Continue failure policy.
func satisfiesDependency(def models.StageDefinition, status models.StageStatus) bool {
	switch status {
	case models.StageStatusSucceeded, models.StageStatusSkipped:
		return true
	case models.StageStatusFailed:
		return def.OnFailure == models.FailurePolicyContinue
	default:
		return false
	}
}

// DispatchReady finds every stage whose dependencies are now satisfied
// and has not yet been started, and starts it: either opening an
// approval gate, skipping it (When clause false), or spawning its
// agent directly.
func (e *Engine) DispatchReady(ctx context.Context, run models.PipelineRun, def models.PipelineDefinition, evalCtx EvalContext) error {
	current, err := e.stageStatuses(ctx, run.ID)
	if err != nil {
		return err
	}

	for _, st := range def.Stages {
		if row, exists := current[st.Name]; exists && row.Status != models.StageStatusPending {
			continue
		}
		ready := true
		for _, dep := range st.DependsOn {
			depStatus, ok := current[dep]
			if !ok || !satisfiesDependency(mustStage(def, dep), depStatus.Status) {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}

		if err := e.startStage(ctx, run, st, evalCtx); err != nil {
			return fmt.Errorf("start stage %q: %w", st.Name, err)
		}
	}
	return nil
}

func mustStage(def models.PipelineDefinition, name string) models.StageDefinition {
	st, _ := StageByName(def, name)
	return st
}

func (e *Engine) startStage(ctx context.Context, run models.PipelineRun, st models.StageDefinition, evalCtx EvalContext) error {
	if !Eval(st.When, evalCtx) {
		return e.store.UpsertStage(ctx, &models.PipelineStage{RunID: run.ID, Name: st.Name, Status: models.StageStatusSkipped})
	}

	if st.RequiresApproval != nil {
		stage := &models.PipelineStage{RunID: run.ID, Name: st.Name, Status: models.StageStatusWaitingApproval}
		if err := e.store.UpsertStage(ctx, stage); err != nil {
			return err
		}
		_, err := OpenApproval(ctx, e.store, stage.ID, *st.RequiresApproval)
		return err
	}

	return e.dispatchStage(ctx, run, st)
}

func (e *Engine) dispatchStage(ctx context.Context, run models.PipelineRun, st models.StageDefinition) error {
	agentID, err := e.spawner.SpawnStage(ctx, run, st)
	if err != nil {
		return fmt.Errorf("spawn agent for stage %q: %w", st.Name, err)
	}
	return e.store.UpsertStage(ctx, &models.PipelineStage{
		RunID:   run.ID,
		Name:    st.Name,
		Status:  models.StageStatusRunning,
		AgentID: &agentID,
	})
}

// ApprovalResolved is called once a stage's ApprovalRequest leaves
// Pending: approved dispatches the stage's agent, rejected fails it
// per its on_failure policy.
func (e *Engine) ApprovalResolved(ctx context.Context, run models.PipelineRun, def models.PipelineDefinition, stageName string, approved bool, evalCtx EvalContext) error {
	st, ok := StageByName(def, stageName)
	if !ok {
		return fmt.Errorf("unknown stage %q", stageName)
	}
	if !approved {
		reason := "approval rejected"
		return e.CompleteStage(ctx, run, def, stageName, models.StageStatusFailed, &reason, evalCtx)
	}
	return e.dispatchStage(ctx, run, st)
}

// CompleteStage records a stage's terminal outcome and either
// dispatches newly-ready dependents, emits a rollback event, or fails
// the whole run, according to the stage's on_failure policy. Finally
// checks whether the run itself is now complete.
func (e *Engine) CompleteStage(ctx context.Context, run models.PipelineRun, def models.PipelineDefinition, stageName string, status models.StageStatus, failureReason *string, evalCtx EvalContext) error {
	st, ok := StageByName(def, stageName)
	if !ok {
		return fmt.Errorf("unknown stage %q", stageName)
	}

	existing, err := e.stageStatuses(ctx, run.ID)
	if err != nil {
		return err
	}
	stageRow := existing[stageName]
	stageRow.RunID = run.ID
	stageRow.Name = stageName
	stageRow.Status = status
	stageRow.FailureReason = failureReason
	if err := e.store.UpsertStage(ctx, &stageRow); err != nil {
		return err
	}

	if status == models.StageStatusFailed {
		switch st.OnFailure {
		case models.FailurePolicyRollback:
			if err := e.store.RecordRollbackEvent(ctx, &models.RollbackEvent{
				RunID: run.ID, FromStage: stageName, TargetStage: st.RollbackTo,
				Reason: stringOrEmpty(failureReason),
			}); err != nil {
				return err
			}
			if err := e.store.UpsertStage(ctx, &models.PipelineStage{RunID: run.ID, Name: st.RollbackTo, Status: models.StageStatusPending}); err != nil {
				return err
			}
			// Forward progress past the failure point is abandoned: every
			// stage still pending that can only be reached through
			// stageName is unreachable now and must resolve to Skipped so
			// the run converges instead of waiting forever on a dependency
			// that will never satisfy. RollbackTo itself is excluded — it
			// is the one stage this policy deliberately re-runs, as a
			// compensating action, not a continuation of forward progress.
			if err := e.skipUnreachableDependents(ctx, run, def, stageName, st.RollbackTo); err != nil {
				return err
			}
			if err := e.finalizeOrContinue(ctx, run, def, evalCtx); err != nil {
				return err
			}
			// A rollback never lets the run succeed: the failed stage's
			// outcome stands even once the compensating stage finishes.
			return e.store.SetPipelineRunStatus(ctx, run.ID, models.PipelineRunStatusFailed)
		case models.FailurePolicyHalt:
			return e.store.SetPipelineRunStatus(ctx, run.ID, models.PipelineRunStatusFailed)
		case models.FailurePolicyContinue:
			if err := e.store.RecordAuditLog(ctx, &models.AuditLog{
				Actor: "pipeline", ActorType: models.AuditActorSystem, Action: "stage.failed",
				ResourceType: "pipeline_stage", ResourceID: stageRow.ID,
				Details: map[string]any{"run_id": run.ID, "stage": stageName},
				Success: false, Error: failureReason,
			}); err != nil {
				return err
			}
			return e.finalizeOrContinue(ctx, run, def, evalCtx)
		default:
			return e.store.SetPipelineRunStatus(ctx, run.ID, models.PipelineRunStatusFailed)
		}
	}

	return e.finalizeOrContinue(ctx, run, def, evalCtx)
}

// skipUnreachableDependents marks every stage still Pending that can
// only become ready through failedStage as Skipped, so a rollback's
// abandoned forward branch resolves instead of leaving the run
// permanently Running. rollbackTarget is excluded since it is being
// deliberately reset to Pending for the compensating run, not
// abandoned.
func (e *Engine) skipUnreachableDependents(ctx context.Context, run models.PipelineRun, def models.PipelineDefinition, failedStage, rollbackTarget string) error {
	current, err := e.stageStatuses(ctx, run.ID)
	if err != nil {
		return err
	}

	children := make(map[string][]string, len(def.Stages))
	for _, st := range def.Stages {
		for _, dep := range st.DependsOn {
			children[dep] = append(children[dep], st.Name)
		}
	}

	queue := []string{failedStage}
	visited := map[string]bool{failedStage: true}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, child := range children[name] {
			if visited[child] || child == rollbackTarget {
				continue
			}
			visited[child] = true
			queue = append(queue, child)

			row, exists := current[child]
			if exists && row.Status != models.StageStatusPending {
				continue
			}
			if err := e.store.UpsertStage(ctx, &models.PipelineStage{RunID: run.ID, Name: child, Status: models.StageStatusSkipped}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) finalizeOrContinue(ctx context.Context, run models.PipelineRun, def models.PipelineDefinition, evalCtx EvalContext) error {
	if err := e.DispatchReady(ctx, run, def, evalCtx); err != nil {
		return err
	}

	stages, err := e.stageStatuses(ctx, run.ID)
	if err != nil {
		return err
	}
	allDone := true
	anyFailed := false
	for _, st := range def.Stages {
		row, ok := stages[st.Name]
		if !ok || !isTerminal(row.Status) {
			allDone = false
			break
		}
		if row.Status == models.StageStatusFailed {
			anyFailed = true
		}
	}
	if !allDone {
		return nil
	}
	if anyFailed {
		return e.store.SetPipelineRunStatus(ctx, run.ID, models.PipelineRunStatusFailed)
	}
	return e.store.SetPipelineRunStatus(ctx, run.ID, models.PipelineRunStatusSucceeded)
}

func isTerminal(status models.StageStatus) bool {
	switch status {
	case models.StageStatusSucceeded, models.StageStatusFailed, models.StageStatusSkipped, models.StageStatusCancelled:
		return true
	default:
		return false
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
