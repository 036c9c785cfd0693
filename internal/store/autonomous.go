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

// CreateAutonomousSession starts a new controller run over an epic.
func (s *Store) CreateAutonomousSession(ctx context.Context, sess *models.AutonomousSession) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	configJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	queueJSON, err := json.Marshal(sess.WorkQueue)
	if err != nil {
		return fmt.Errorf("encode work queue: %w", err)
	}
	completedJSON, err := json.Marshal(sess.CompletedItems)
	if err != nil {
		return fmt.Errorf("encode completed items: %w", err)
	}
	metricsJSON, err := json.Marshal(sess.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO autonomous_sessions (id, epic_id, state, current_story_id, current_agent_id, config, work_queue, completed_items, metrics, error_reason, blocked_reason, pause_reason, started_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.EpicID, sess.State, nullableStr(sess.CurrentStoryID), nullableStr(sess.CurrentAgentID),
		string(configJSON), string(queueJSON), string(completedJSON), string(metricsJSON),
		nullableStr(sess.ErrorReason), nullableStr(sess.BlockedReason), nullableStr(sess.PauseReason), now, now, nil,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert autonomous session", err)
	}
	return nil
}

type autonomousSessionRow struct {
	ID              string         `db:"id"`
	EpicID          string         `db:"epic_id"`
	State           string         `db:"state"`
	CurrentStoryID  sql.NullString `db:"current_story_id"`
	CurrentAgentID  sql.NullString `db:"current_agent_id"`
	Config          string         `db:"config"`
	WorkQueue       string         `db:"work_queue"`
	CompletedItems  string         `db:"completed_items"`
	Metrics         string         `db:"metrics"`
	ErrorReason     sql.NullString `db:"error_reason"`
	BlockedReason   sql.NullString `db:"blocked_reason"`
	PauseReason     sql.NullString `db:"pause_reason"`
	StartedAt       string         `db:"started_at"`
	UpdatedAt       string         `db:"updated_at"`
	CompletedAt     sql.NullString `db:"completed_at"`
}

func (r autonomousSessionRow) toModel() (models.AutonomousSession, error) {
	sess := models.AutonomousSession{ID: r.ID, EpicID: r.EpicID, State: models.AutonomousState(r.State)}
	if err := json.Unmarshal([]byte(r.Config), &sess.Config); err != nil {
		return models.AutonomousSession{}, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(r.WorkQueue), &sess.WorkQueue); err != nil {
		return models.AutonomousSession{}, fmt.Errorf("decode work queue: %w", err)
	}
	if err := json.Unmarshal([]byte(r.CompletedItems), &sess.CompletedItems); err != nil {
		return models.AutonomousSession{}, fmt.Errorf("decode completed items: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Metrics), &sess.Metrics); err != nil {
		return models.AutonomousSession{}, fmt.Errorf("decode metrics: %w", err)
	}
	if r.CurrentStoryID.Valid {
		sess.CurrentStoryID = &r.CurrentStoryID.String
	}
	if r.CurrentAgentID.Valid {
		sess.CurrentAgentID = &r.CurrentAgentID.String
	}
	if r.ErrorReason.Valid {
		sess.ErrorReason = &r.ErrorReason.String
	}
	if r.BlockedReason.Valid {
		sess.BlockedReason = &r.BlockedReason.String
	}
	if r.PauseReason.Valid {
		sess.PauseReason = &r.PauseReason.String
	}
	var err error
	if sess.StartedAt, err = parseTime(r.StartedAt); err != nil {
		return models.AutonomousSession{}, err
	}
	if sess.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.AutonomousSession{}, err
	}
	if r.CompletedAt.Valid {
		t, err := parseTime(r.CompletedAt.String)
		if err != nil {
			return models.AutonomousSession{}, err
		}
		sess.CompletedAt = &t
	}
	return sess, nil
}

// GetAutonomousSession fetches one session by ID.
func (s *Store) GetAutonomousSession(ctx context.Context, id string) (models.AutonomousSession, error) {
	var row autonomousSessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM autonomous_sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AutonomousSession{}, apperr.NotFound("autonomous_session", id)
	}
	if err != nil {
		return models.AutonomousSession{}, apperr.Wrap(apperr.KindStorageUnavailable, "select autonomous session", err)
	}
	return row.toModel()
}

// GetAutonomousSessionByEpic fetches the (single, active or most
// recent) session for an epic.
func (s *Store) GetAutonomousSessionByEpic(ctx context.Context, epicID string) (models.AutonomousSession, error) {
	var row autonomousSessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM autonomous_sessions WHERE epic_id = ? ORDER BY started_at DESC LIMIT 1`, epicID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AutonomousSession{}, apperr.NotFound("autonomous_session for epic", epicID)
	}
	if err != nil {
		return models.AutonomousSession{}, apperr.Wrap(apperr.KindStorageUnavailable, "select autonomous session by epic", err)
	}
	return row.toModel()
}

// GetAutonomousSessionByAgent finds the session currently driving
// agentID, if any. Used by the recovery policy to recover story/
// review context for a stuck detection raised against an agent the
// controller itself dispatched.
func (s *Store) GetAutonomousSessionByAgent(ctx context.Context, agentID string) (models.AutonomousSession, error) {
	var row autonomousSessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM autonomous_sessions WHERE current_agent_id = ?`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AutonomousSession{}, apperr.NotFound("autonomous_session for agent", agentID)
	}
	if err != nil {
		return models.AutonomousSession{}, apperr.Wrap(apperr.KindStorageUnavailable, "select autonomous session by agent", err)
	}
	return row.toModel()
}

// ListActiveAutonomousSessions returns every session whose meta-state
// still requires the drive loop's attention, i.e. everything except
// Done (finished) and Paused/Blocked (both wait for an explicit
// operator resume/unblock rather than the loop's own polling).
func (s *Store) ListActiveAutonomousSessions(ctx context.Context) ([]models.AutonomousSession, error) {
	var rows []autonomousSessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM autonomous_sessions
		WHERE state NOT IN (?, ?, ?)
		ORDER BY started_at ASC`,
		models.AutonomousStateDone, models.AutonomousStatePaused, models.AutonomousStateBlocked,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select active autonomous sessions", err)
	}
	out := make([]models.AutonomousSession, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// UpdateAutonomousSession persists the full mutable state of a session
// in one statement; the meta-state-machine in the autonomous package
// owns transition legality, this call just writes the result.
func (s *Store) UpdateAutonomousSession(ctx context.Context, sess *models.AutonomousSession) error {
	configJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	queueJSON, err := json.Marshal(sess.WorkQueue)
	if err != nil {
		return fmt.Errorf("encode work queue: %w", err)
	}
	completedJSON, err := json.Marshal(sess.CompletedItems)
	if err != nil {
		return fmt.Errorf("encode completed items: %w", err)
	}
	metricsJSON, err := json.Marshal(sess.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	now := nowRFC3339()
	var completedAt any
	if sess.CompletedAt != nil {
		completedAt = sess.CompletedAt.Format(time.RFC3339Nano)
	} else if sess.State == models.AutonomousStateDone {
		completedAt = now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE autonomous_sessions SET state = ?, current_story_id = ?, current_agent_id = ?, config = ?, work_queue = ?, completed_items = ?, metrics = ?, error_reason = ?, blocked_reason = ?, pause_reason = ?, updated_at = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ?`,
		sess.State, nullableStr(sess.CurrentStoryID), nullableStr(sess.CurrentAgentID), string(configJSON), string(queueJSON), string(completedJSON), string(metricsJSON),
		nullableStr(sess.ErrorReason), nullableStr(sess.BlockedReason), nullableStr(sess.PauseReason), now, completedAt, sess.ID,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update autonomous session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("autonomous_session", sess.ID)
	}
	return nil
}

// CreateAgentContinuation queues a resume request for a completed agent.
func (s *Store) CreateAgentContinuation(ctx context.Context, c *models.AgentContinuation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("encode continuation context: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_continuations (id, agent_id, reason, message, context, status, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, c.Reason, c.Message, string(ctxJSON), c.Status, nullableStr(c.Result), now, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert agent continuation", err)
	}
	return nil
}

// SetContinuationStatus updates a continuation's lifecycle status.
func (s *Store) SetContinuationStatus(ctx context.Context, id string, status models.ContinuationStatus, result *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_continuations SET status = ?, result = ?, updated_at = ? WHERE id = ?`, status, nullableStr(result), nowRFC3339(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update continuation status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("agent_continuation", id)
	}
	return nil
}
