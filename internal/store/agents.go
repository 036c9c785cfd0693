package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

type agentRow struct {
	ID           string         `db:"id"`
	Kind         string         `db:"kind"`
	State        string         `db:"state"`
	Task         string         `db:"task"`
	Context      string         `db:"context"`
	SessionID    sql.NullString `db:"session_id"`
	ParentID     sql.NullString `db:"parent_id"`
	WorktreeID   sql.NullString `db:"worktree_id"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`
	CompletedAt  sql.NullString `db:"completed_at"`
}

func (r agentRow) toModel() (models.Agent, error) {
	var ctx models.AgentContext
	if err := json.Unmarshal([]byte(r.Context), &ctx); err != nil {
		return models.Agent{}, fmt.Errorf("decode agent context: %w", err)
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return models.Agent{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return models.Agent{}, err
	}
	a := models.Agent{
		ID:        r.ID,
		Kind:      models.AgentKind(r.Kind),
		State:     models.AgentState(r.State),
		Task:      r.Task,
		Context:   ctx,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if r.SessionID.Valid {
		a.SessionID = &r.SessionID.String
	}
	if r.ParentID.Valid {
		a.ParentID = &r.ParentID.String
	}
	if r.WorktreeID.Valid {
		a.WorktreeID = &r.WorktreeID.String
	}
	if r.ErrorMessage.Valid {
		a.ErrorMessage = &r.ErrorMessage.String
	}
	if r.CompletedAt.Valid {
		t, err := parseTime(r.CompletedAt.String)
		if err != nil {
			return models.Agent{}, err
		}
		a.CompletedAt = &t
	}
	return a, nil
}

// CreateAgent inserts a new agent in the Created state. The caller is
// responsible for validating Kind and Task beforehand.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := nowRFC3339()
	a.CreatedAt, _ = parseTime(now)
	a.UpdatedAt = a.CreatedAt

	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("encode agent context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, kind, state, task, context, session_id, parent_id, worktree_id, error_message, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.State, a.Task, string(ctxJSON),
		nullableStr(a.SessionID), nullableStr(a.ParentID), nullableStr(a.WorktreeID), nullableStr(a.ErrorMessage),
		now, now, nil,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert agent", err)
	}
	return nil
}

// GetAgent fetches one agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	var row agentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Agent{}, apperr.NotFound("agent", id)
	}
	if err != nil {
		return models.Agent{}, apperr.Wrap(apperr.KindStorageUnavailable, "select agent", err)
	}
	return row.toModel()
}

// ListAllAgents returns every agent regardless of state, ordered
// oldest-first, for CLI/API listing use where no state filter applies.
func (s *Store) ListAllAgents(ctx context.Context) ([]models.Agent, error) {
	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM agents ORDER BY created_at ASC`); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select all agents", err)
	}
	return decodeAgentRows(rows)
}

// ListAgentsByState returns every agent currently in one of the given
// states, ordered oldest-first.
func (s *Store) ListAgentsByState(ctx context.Context, states ...models.AgentState) ([]models.Agent, error) {
	query, args, err := sqlx.In(`SELECT * FROM agents WHERE state IN (?) ORDER BY created_at ASC`, toStringSlice(states))
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	query = s.db.Rebind(query)
	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select agents by state", err)
	}
	return decodeAgentRows(rows)
}

// ListChildren returns every agent whose ParentID is the given agent.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]models.Agent, error) {
	var rows []agentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM agents WHERE parent_id = ? ORDER BY created_at ASC`, parentID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select agent children", err)
	}
	return decodeAgentRows(rows)
}

func decodeAgentRows(rows []agentRow) ([]models.Agent, error) {
	out := make([]models.Agent, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// UpdateAgentState performs an optimistic-concurrency state transition:
// it only succeeds if the agent's current state in storage still
// matches expectedFrom. Returns apperr.Conflict otherwise. The state
// transition row is written in the same transaction, keeping the
// append-only StateTransition log consistent with the agent's state.
func (s *Store) UpdateAgentState(ctx context.Context, agentID string, expectedFrom, to models.AgentState, trigger string, depSnapshot map[string]models.AgentState, transitionErr *string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		now := nowRFC3339()
		var completedAt any
		if to.Terminal() {
			completedAt = now
		}
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE agents SET state = ?, updated_at = ?, completed_at = COALESCE(completed_at, ?)
			WHERE id = ? AND state = ?`,
			to, now, completedAt, agentID, expectedFrom,
		)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "update agent state", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "rows affected", err)
		}
		if n == 0 {
			return apperr.Conflict(fmt.Sprintf("agent %q is not in expected state %q", agentID, expectedFrom))
		}

		snapshotJSON, err := json.Marshal(depSnapshot)
		if err != nil {
			return fmt.Errorf("encode dependency snapshot: %w", err)
		}
		_, err = tx.tx.ExecContext(ctx, `
			INSERT INTO state_transitions (id, agent_id, from_state, to_state, trigger, dependency_snapshot, success, error, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), agentID, expectedFrom, to, trigger, string(snapshotJSON), transitionErr == nil, nullableStr(transitionErr), now,
		)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "insert state transition", err)
		}
		return nil
	})
}

// BindSession attaches or replaces an agent's active SessionID.
func (s *Store) BindSession(ctx context.Context, agentID string, sessionID *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET session_id = ?, updated_at = ? WHERE id = ?`, nullableStr(sessionID), nowRFC3339(), agentID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "bind session", err)
	}
	return nil
}

// BindWorktree attaches or releases an agent's worktree.
func (s *Store) BindWorktree(ctx context.Context, agentID string, worktreeID *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET worktree_id = ?, updated_at = ? WHERE id = ?`, nullableStr(worktreeID), nowRFC3339(), agentID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "bind worktree", err)
	}
	return nil
}

// AddDependency records a directed edge agentID -> dependsOn.
func (s *Store) AddDependency(ctx context.Context, agentID, dependsOn string, kind models.DependencyKind) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_dependencies (id, agent_id, depends_on, kind, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, depends_on) DO UPDATE SET kind = excluded.kind`,
		uuid.NewString(), agentID, dependsOn, kind, nowRFC3339(),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert agent dependency", err)
	}
	return nil
}

// Dependencies returns the agents that agentID depends on.
func (s *Store) Dependencies(ctx context.Context, agentID string) ([]models.AgentDependency, error) {
	var out []models.AgentDependency
	rows, err := s.db.QueryxContext(ctx, `SELECT id, agent_id, depends_on, kind, created_at FROM agent_dependencies WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select dependencies", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, aid, dependsOn, kind, createdAt string
		if err := rows.Scan(&id, &aid, &dependsOn, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, models.AgentDependency{ID: id, AgentID: aid, DependsOn: dependsOn, Kind: models.DependencyKind(kind), CreatedAt: ts})
	}
	return out, rows.Err()
}

// DependencyStates resolves the current state of every required
// dependency of agentID, used by agentcore to decide readiness.
func (s *Store) DependencyStates(ctx context.Context, agentID string) (map[string]models.AgentState, error) {
	deps, err := s.Dependencies(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.AgentState, len(deps))
	for _, d := range deps {
		if d.Kind != models.DependencyRequired {
			continue
		}
		a, err := s.GetAgent(ctx, d.DependsOn)
		if err != nil {
			return nil, err
		}
		out[d.DependsOn] = a.State
	}
	return out, nil
}

// AppendMessage appends an immutable conversation turn.
func (s *Store) AppendMessage(ctx context.Context, m *models.AgentMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	toolCallsJSON, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	toolResultsJSON, err := json.Marshal(m.ToolResults)
	if err != nil {
		return fmt.Errorf("encode tool results: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_messages (id, agent_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Role, m.Content, string(toolCallsJSON), string(toolResultsJSON), m.InputTokens, m.OutputTokens, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert agent message", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE agents SET updated_at = ? WHERE id = ?`, now, m.AgentID); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "touch agent updated_at", err)
	}
	return nil
}

// Messages returns an agent's conversation in chronological order.
func (s *Store) Messages(ctx context.Context, agentID string) ([]models.AgentMessage, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT id, agent_id, role, content, tool_calls, tool_results, input_tokens, output_tokens, created_at FROM agent_messages WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select agent messages", err)
	}
	defer rows.Close()
	var out []models.AgentMessage
	for rows.Next() {
		var id, aid, role, content, toolCallsJSON, toolResultsJSON, createdAt string
		var inTok, outTok int
		if err := rows.Scan(&id, &aid, &role, &content, &toolCallsJSON, &toolResultsJSON, &inTok, &outTok, &createdAt); err != nil {
			return nil, fmt.Errorf("scan agent message: %w", err)
		}
		var calls []models.ToolCall
		var results []models.ToolResult
		if err := json.Unmarshal([]byte(toolCallsJSON), &calls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		if err := json.Unmarshal([]byte(toolResultsJSON), &results); err != nil {
			return nil, fmt.Errorf("decode tool results: %w", err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, models.AgentMessage{
			ID: id, AgentID: aid, Role: models.MessageRole(role), Content: content,
			ToolCalls: calls, ToolResults: results, InputTokens: inTok, OutputTokens: outTok, CreatedAt: ts,
		})
	}
	return out, rows.Err()
}

func nullableStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func toStringSlice[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
