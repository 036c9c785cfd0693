package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// CreateSession opens a new session bound to an agent.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, parent_id, external_session_id, accumulated_tokens, forked_at, closed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AgentID, nullableStr(sess.ParentID), sess.ExternalSessionID, sess.AccumulatedTokens, nullableTime(sess.ForkedAt), nullableTime(sess.ClosedAt), now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert session", err)
	}
	return nil
}

// ForkSession creates a child session under parentID, carrying forward
// no accumulated tokens (the caller summarizes context separately, see
// agentcore's summarize-on-fork behaviour).
func (s *Store) ForkSession(ctx context.Context, parentID, agentID, externalSessionID string) (models.Session, error) {
	child := models.Session{
		ID:                uuid.NewString(),
		AgentID:           agentID,
		ParentID:          &parentID,
		ExternalSessionID: externalSessionID,
	}
	if err := s.CreateSession(ctx, &child); err != nil {
		return models.Session{}, err
	}
	now := nowRFC3339()
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET forked_at = ? WHERE id = ?`, now, child.ID); err != nil {
		return models.Session{}, apperr.Wrap(apperr.KindStorageUnavailable, "mark forked_at", err)
	}
	return s.GetSession(ctx, child.ID)
}

type sessionRow struct {
	ID                string         `db:"id"`
	AgentID           string         `db:"agent_id"`
	ParentID          sql.NullString `db:"parent_id"`
	ExternalSessionID string         `db:"external_session_id"`
	AccumulatedTokens int            `db:"accumulated_tokens"`
	ForkedAt          sql.NullString `db:"forked_at"`
	ClosedAt          sql.NullString `db:"closed_at"`
	CreatedAt         string         `db:"created_at"`
}

func (r sessionRow) toModel() (models.Session, error) {
	sess := models.Session{
		ID:                r.ID,
		AgentID:           r.AgentID,
		ExternalSessionID: r.ExternalSessionID,
		AccumulatedTokens: r.AccumulatedTokens,
	}
	if r.ParentID.Valid {
		sess.ParentID = &r.ParentID.String
	}
	var err error
	if sess.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.Session{}, err
	}
	if r.ForkedAt.Valid {
		t, err := parseTime(r.ForkedAt.String)
		if err != nil {
			return models.Session{}, err
		}
		sess.ForkedAt = &t
	}
	if r.ClosedAt.Valid {
		t, err := parseTime(r.ClosedAt.String)
		if err != nil {
			return models.Session{}, err
		}
		sess.ClosedAt = &t
	}
	return sess, nil
}

// GetSession fetches one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, apperr.NotFound("session", id)
	}
	if err != nil {
		return models.Session{}, apperr.Wrap(apperr.KindStorageUnavailable, "select session", err)
	}
	return row.toModel()
}

// AccumulateTokens adds delta to the session's running token count.
func (s *Store) AccumulateTokens(ctx context.Context, sessionID string, delta int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET accumulated_tokens = accumulated_tokens + ? WHERE id = ?`, delta, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "accumulate tokens", err)
	}
	return nil
}

// CloseSession marks a session closed.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET closed_at = ? WHERE id = ?`, nowRFC3339(), sessionID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "close session", err)
	}
	return nil
}

// CreateWorktree registers a new isolated filesystem workspace.
func (s *Store) CreateWorktree(ctx context.Context, w *models.Worktree) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worktrees (id, name, path, branch, base_branch, status, owner_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Path, w.Branch, w.BaseBranch, w.Status, nullableStr(w.OwnerAgent), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("worktree %q already exists", w.Name))
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert worktree", err)
	}
	return nil
}

// SetWorktreeStatus transitions a worktree's lifecycle status.
func (s *Store) SetWorktreeStatus(ctx context.Context, id string, status models.WorktreeStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE worktrees SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update worktree status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("worktree", id)
	}
	return nil
}

type worktreeRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Path       string         `db:"path"`
	Branch     string         `db:"branch"`
	BaseBranch string         `db:"base_branch"`
	Status     string         `db:"status"`
	OwnerAgent sql.NullString `db:"owner_agent"`
	CreatedAt  string         `db:"created_at"`
	UpdatedAt  string         `db:"updated_at"`
}

func (r worktreeRow) toModel() (models.Worktree, error) {
	w := models.Worktree{
		ID: r.ID, Name: r.Name, Path: r.Path, Branch: r.Branch, BaseBranch: r.BaseBranch,
		Status: models.WorktreeStatus(r.Status),
	}
	if r.OwnerAgent.Valid {
		w.OwnerAgent = &r.OwnerAgent.String
	}
	var err error
	if w.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.Worktree{}, err
	}
	if w.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.Worktree{}, err
	}
	return w, nil
}

// GetWorktree fetches one worktree by ID.
func (s *Store) GetWorktree(ctx context.Context, id string) (models.Worktree, error) {
	var row worktreeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM worktrees WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worktree{}, apperr.NotFound("worktree", id)
	}
	if err != nil {
		return models.Worktree{}, apperr.Wrap(apperr.KindStorageUnavailable, "select worktree", err)
	}
	return row.toModel()
}

// ListStaleWorktrees returns worktrees in the Stale status, used by the
// retention sweep to reclaim disk space.
func (s *Store) ListStaleWorktrees(ctx context.Context) ([]models.Worktree, error) {
	var rows []worktreeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM worktrees WHERE status = ?`, models.WorktreeStatusStale); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select stale worktrees", err)
	}
	out := make([]models.Worktree, 0, len(rows))
	for _, r := range rows {
		w, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// RemoveWorktree deletes a worktree row, used by the retention sweep
// once a Stale worktree's grace period has elapsed. Worktrees are
// refcounted, so callers must call SetWorktreeStatus(removed) and
// confirm no agent still references it before calling this.
func (s *Store) RemoveWorktree(ctx context.Context, id string) error {
	var boundCount int
	if err := s.db.GetContext(ctx, &boundCount, `SELECT COUNT(*) FROM agents WHERE worktree_id = ?`, id); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "count worktree bindings", err)
	}
	if boundCount > 0 {
		return apperr.New(apperr.KindInvariantViolation, fmt.Sprintf("worktree %q still has %d bound agent(s)", id, boundCount))
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM worktrees WHERE id = ? AND status = ?`, id, models.WorktreeStatusRemoved)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "delete worktree", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindInvariantViolation, fmt.Sprintf("worktree %q is not in removed status", id))
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
