package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// CreatePipeline persists a validated pipeline definition, keeping both
// the original YAML text and the parsed AST.
func (s *Store) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	defJSON, err := json.Marshal(p.Definition)
	if err != nil {
		return fmt.Errorf("encode pipeline definition: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, source_text, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SourceText, string(defJSON), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("pipeline %q already exists", p.Name))
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert pipeline", err)
	}
	return nil
}

// UpdatePipeline replaces a pipeline's text/definition (redeploy).
func (s *Store) UpdatePipeline(ctx context.Context, p *models.Pipeline) error {
	defJSON, err := json.Marshal(p.Definition)
	if err != nil {
		return fmt.Errorf("encode pipeline definition: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pipelines SET source_text = ?, definition = ?, updated_at = ? WHERE id = ?`,
		p.SourceText, string(defJSON), nowRFC3339(), p.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update pipeline", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("pipeline", p.ID)
	}
	return nil
}

type pipelineRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	SourceText string `db:"source_text"`
	Definition string `db:"definition"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func (r pipelineRow) toModel() (models.Pipeline, error) {
	var def models.PipelineDefinition
	if err := json.Unmarshal([]byte(r.Definition), &def); err != nil {
		return models.Pipeline{}, fmt.Errorf("decode pipeline definition: %w", err)
	}
	p := models.Pipeline{ID: r.ID, Name: r.Name, SourceText: r.SourceText, Definition: def}
	var err error
	if p.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.Pipeline{}, err
	}
	if p.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.Pipeline{}, err
	}
	return p, nil
}

// GetPipelineByName fetches a pipeline by its unique name.
func (s *Store) GetPipelineByName(ctx context.Context, name string) (models.Pipeline, error) {
	var row pipelineRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pipelines WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Pipeline{}, apperr.NotFound("pipeline", name)
	}
	if err != nil {
		return models.Pipeline{}, apperr.Wrap(apperr.KindStorageUnavailable, "select pipeline", err)
	}
	return row.toModel()
}

// CreatePipelineRun starts a new run of a pipeline against a trigger context.
func (s *Store) CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	ctxJSON, err := json.Marshal(run.TriggerCtx)
	if err != nil {
		return fmt.Errorf("encode trigger context: %w", err)
	}
	varsJSON, err := json.Marshal(run.Variables)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	run.StartedAt, _ = parseTime(nowRFC3339())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, pipeline_id, trigger_ctx, variables, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PipelineID, string(ctxJSON), string(varsJSON), run.Status, run.StartedAt.Format(time.RFC3339Nano), nil,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert pipeline run", err)
	}
	return nil
}

// SetPipelineRunStatus transitions a run's terminal/non-terminal status.
func (s *Store) SetPipelineRunStatus(ctx context.Context, id string, status models.PipelineRunStatus) error {
	now := nowRFC3339()
	var completedAt any
	if status != models.PipelineRunStatusRunning {
		completedAt = now
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pipeline_runs SET status = ?, completed_at = COALESCE(completed_at, ?) WHERE id = ?`, status, completedAt, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update pipeline run status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("pipeline_run", id)
	}
	return nil
}

type pipelineRunRow struct {
	ID          string         `db:"id"`
	PipelineID  string         `db:"pipeline_id"`
	TriggerCtx  string         `db:"trigger_ctx"`
	Variables   string         `db:"variables"`
	Status      string         `db:"status"`
	StartedAt   string         `db:"started_at"`
	CompletedAt sql.NullString `db:"completed_at"`
}

func (r pipelineRunRow) toModel() (models.PipelineRun, error) {
	run := models.PipelineRun{ID: r.ID, PipelineID: r.PipelineID, Status: models.PipelineRunStatus(r.Status)}
	if err := json.Unmarshal([]byte(r.TriggerCtx), &run.TriggerCtx); err != nil {
		return models.PipelineRun{}, fmt.Errorf("decode trigger context: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Variables), &run.Variables); err != nil {
		return models.PipelineRun{}, fmt.Errorf("decode variables: %w", err)
	}
	var err error
	if run.StartedAt, err = parseTime(r.StartedAt); err != nil {
		return models.PipelineRun{}, err
	}
	if r.CompletedAt.Valid {
		t, err := parseTime(r.CompletedAt.String)
		if err != nil {
			return models.PipelineRun{}, err
		}
		run.CompletedAt = &t
	}
	return run, nil
}

// GetPipelineRun fetches one run by ID.
func (s *Store) GetPipelineRun(ctx context.Context, id string) (models.PipelineRun, error) {
	var row pipelineRunRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pipeline_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PipelineRun{}, apperr.NotFound("pipeline_run", id)
	}
	if err != nil {
		return models.PipelineRun{}, apperr.Wrap(apperr.KindStorageUnavailable, "select pipeline run", err)
	}
	return row.toModel()
}

// UpsertStage inserts a stage row on first dispatch, updating it on
// every subsequent status transition. Keyed by (run_id, name).
func (s *Store) UpsertStage(ctx context.Context, st *models.PipelineStage) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_stages (id, run_id, name, status, agent_id, started_at, completed_at, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, name) DO UPDATE SET status = excluded.status, agent_id = excluded.agent_id, started_at = COALESCE(pipeline_stages.started_at, excluded.started_at), completed_at = excluded.completed_at, failure_reason = excluded.failure_reason`,
		st.ID, st.RunID, st.Name, st.Status, nullableStr(st.AgentID), nullableTime(st.StartedAt), nullableTime(st.CompletedAt), nullableStr(st.FailureReason),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "upsert pipeline stage", err)
	}
	return nil
}

type pipelineStageRow struct {
	ID            string         `db:"id"`
	RunID         string         `db:"run_id"`
	Name          string         `db:"name"`
	Status        string         `db:"status"`
	AgentID       sql.NullString `db:"agent_id"`
	StartedAt     sql.NullString `db:"started_at"`
	CompletedAt   sql.NullString `db:"completed_at"`
	FailureReason sql.NullString `db:"failure_reason"`
}

func (r pipelineStageRow) toModel() (models.PipelineStage, error) {
	st := models.PipelineStage{ID: r.ID, RunID: r.RunID, Name: r.Name, Status: models.StageStatus(r.Status)}
	if r.AgentID.Valid {
		st.AgentID = &r.AgentID.String
	}
	if r.FailureReason.Valid {
		st.FailureReason = &r.FailureReason.String
	}
	if r.StartedAt.Valid {
		t, err := parseTime(r.StartedAt.String)
		if err != nil {
			return models.PipelineStage{}, err
		}
		st.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t, err := parseTime(r.CompletedAt.String)
		if err != nil {
			return models.PipelineStage{}, err
		}
		st.CompletedAt = &t
	}
	return st, nil
}

// ListStages returns every stage of a run.
func (s *Store) ListStages(ctx context.Context, runID string) ([]models.PipelineStage, error) {
	var rows []pipelineStageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM pipeline_stages WHERE run_id = ?`, runID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select pipeline stages", err)
	}
	out := make([]models.PipelineStage, 0, len(rows))
	for _, r := range rows {
		st, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// CreateApprovalRequest opens a quorum-gated approval on a stage.
func (s *Store) CreateApprovalRequest(ctx context.Context, a *models.ApprovalRequest) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	approversJSON, err := json.Marshal(a.Approvers)
	if err != nil {
		return fmt.Errorf("encode approvers: %w", err)
	}
	decisionsJSON, err := json.Marshal(a.Decisions)
	if err != nil {
		return fmt.Errorf("encode decisions: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, stage_id, approvers, required_count, decisions, timeout_seconds, timeout_action, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.StageID, string(approversJSON), a.RequiredCount, string(decisionsJSON), a.TimeoutSeconds, a.TimeoutAction, a.Status, now, nil,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert approval request", err)
	}
	return nil
}

type approvalRequestRow struct {
	ID             string         `db:"id"`
	StageID        string         `db:"stage_id"`
	Approvers      string         `db:"approvers"`
	RequiredCount  int            `db:"required_count"`
	Decisions      string         `db:"decisions"`
	TimeoutSeconds int            `db:"timeout_seconds"`
	TimeoutAction  string         `db:"timeout_action"`
	Status         string         `db:"status"`
	CreatedAt      string         `db:"created_at"`
	ResolvedAt     sql.NullString `db:"resolved_at"`
}

func (r approvalRequestRow) toModel() (models.ApprovalRequest, error) {
	a := models.ApprovalRequest{
		ID: r.ID, StageID: r.StageID, RequiredCount: r.RequiredCount, TimeoutSeconds: r.TimeoutSeconds,
		TimeoutAction: models.TimeoutAction(r.TimeoutAction), Status: models.ApprovalStatus(r.Status),
	}
	if err := json.Unmarshal([]byte(r.Approvers), &a.Approvers); err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("decode approvers: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Decisions), &a.Decisions); err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("decode decisions: %w", err)
	}
	var err error
	if a.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.ApprovalRequest{}, err
	}
	if r.ResolvedAt.Valid {
		t, err := parseTime(r.ResolvedAt.String)
		if err != nil {
			return models.ApprovalRequest{}, err
		}
		a.ResolvedAt = &t
	}
	return a, nil
}

// GetApprovalRequest fetches one approval request by ID.
func (s *Store) GetApprovalRequest(ctx context.Context, id string) (models.ApprovalRequest, error) {
	var row approvalRequestRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM approval_requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ApprovalRequest{}, apperr.NotFound("approval_request", id)
	}
	if err != nil {
		return models.ApprovalRequest{}, apperr.Wrap(apperr.KindStorageUnavailable, "select approval request", err)
	}
	return row.toModel()
}

// RecordApprovalDecision appends one approver's vote and, if the
// request now meets quorum, rejects, or is resolved, closes it.
// ResolvedAt is set iff the request transitions out of Pending here,
// enforcing invariant 8's iff condition inside a single transaction.
func (s *Store) RecordApprovalDecision(ctx context.Context, id string, decision models.ApprovalDecision, resolve *models.ApprovalStatus) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		var row approvalRequestRow
		if err := tx.tx.GetContext(ctx, &row, `SELECT * FROM approval_requests WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("approval_request", id)
			}
			return apperr.Wrap(apperr.KindStorageUnavailable, "select approval request for update", err)
		}
		current, err := row.toModel()
		if err != nil {
			return err
		}
		if current.Status != models.ApprovalStatusPending {
			return apperr.Conflict(fmt.Sprintf("approval request %q already resolved", id))
		}
		current.Decisions = append(current.Decisions, decision)
		decisionsJSON, err := json.Marshal(current.Decisions)
		if err != nil {
			return fmt.Errorf("encode decisions: %w", err)
		}
		now := nowRFC3339()
		var resolvedAt any
		status := current.Status
		if resolve != nil {
			status = *resolve
			resolvedAt = now
		}
		_, err = tx.tx.ExecContext(ctx, `UPDATE approval_requests SET decisions = ?, status = ?, resolved_at = ? WHERE id = ?`,
			string(decisionsJSON), status, resolvedAt, id)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "update approval request", err)
		}
		return nil
	})
}

// RecordRollbackEvent logs a rollback triggered by a failed stage.
func (s *Store) RecordRollbackEvent(ctx context.Context, ev *models.RollbackEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rollback_events (id, run_id, from_stage, target_stage, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.FromStage, ev.TargetStage, ev.Reason, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert rollback event", err)
	}
	return nil
}
