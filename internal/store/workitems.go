package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// CreateEpic inserts a new top-level work item.
func (s *Store) CreateEpic(ctx context.Context, e *models.Epic) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epics (id, title, description, status, owner_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Description, e.Status, nullableStr(e.OwnerAgent), now, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert epic", err)
	}
	return nil
}

type epicRow struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Status      string         `db:"status"`
	OwnerAgent  sql.NullString `db:"owner_agent"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

func (r epicRow) toModel() (models.Epic, error) {
	e := models.Epic{ID: r.ID, Title: r.Title, Description: r.Description, Status: models.WorkItemStatus(r.Status)}
	if r.OwnerAgent.Valid {
		e.OwnerAgent = &r.OwnerAgent.String
	}
	var err error
	if e.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.Epic{}, err
	}
	if e.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.Epic{}, err
	}
	return e, nil
}

// GetEpic fetches one epic by ID.
func (s *Store) GetEpic(ctx context.Context, id string) (models.Epic, error) {
	var row epicRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM epics WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Epic{}, apperr.NotFound("epic", id)
	}
	if err != nil {
		return models.Epic{}, apperr.Wrap(apperr.KindStorageUnavailable, "select epic", err)
	}
	return row.toModel()
}

// SetEpicStatus updates an epic's status.
func (s *Store) SetEpicStatus(ctx context.Context, id string, status models.WorkItemStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE epics SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update epic status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("epic", id)
	}
	return nil
}

// CreateStory inserts a new story under an epic.
func (s *Store) CreateStory(ctx context.Context, st *models.Story) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	criteriaJSON, err := json.Marshal(st.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("encode acceptance criteria: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stories (id, epic_id, title, acceptance_criteria, status, owner_agent, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.EpicID, st.Title, string(criteriaJSON), st.Status, nullableStr(st.OwnerAgent), st.Sequence, now, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert story", err)
	}
	return nil
}

type storyRow struct {
	ID                 string         `db:"id"`
	EpicID             string         `db:"epic_id"`
	Title              string         `db:"title"`
	AcceptanceCriteria string         `db:"acceptance_criteria"`
	Status             string         `db:"status"`
	OwnerAgent         sql.NullString `db:"owner_agent"`
	Sequence           int            `db:"sequence"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
}

func (r storyRow) toModel() (models.Story, error) {
	var criteria map[string]any
	if err := json.Unmarshal([]byte(r.AcceptanceCriteria), &criteria); err != nil {
		return models.Story{}, fmt.Errorf("decode acceptance criteria: %w", err)
	}
	st := models.Story{
		ID: r.ID, EpicID: r.EpicID, Title: r.Title, AcceptanceCriteria: criteria,
		Status: models.WorkItemStatus(r.Status), Sequence: r.Sequence,
	}
	if r.OwnerAgent.Valid {
		st.OwnerAgent = &r.OwnerAgent.String
	}
	var err error
	if st.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.Story{}, err
	}
	if st.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.Story{}, err
	}
	return st, nil
}

// ListStoriesByEpic returns an epic's stories ordered by sequence.
func (s *Store) ListStoriesByEpic(ctx context.Context, epicID string) ([]models.Story, error) {
	var rows []storyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM stories WHERE epic_id = ? ORDER BY sequence ASC`, epicID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select stories", err)
	}
	out := make([]models.Story, 0, len(rows))
	for _, r := range rows {
		st, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// GetStory fetches one story by ID.
func (s *Store) GetStory(ctx context.Context, id string) (models.Story, error) {
	var row storyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM stories WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Story{}, apperr.NotFound("story", id)
	}
	if err != nil {
		return models.Story{}, apperr.Wrap(apperr.KindStorageUnavailable, "select story", err)
	}
	return row.toModel()
}

// SetStoryStatus updates a story's status.
func (s *Store) SetStoryStatus(ctx context.Context, id string, status models.WorkItemStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stories SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update story status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("story", id)
	}
	return nil
}

// CreatePrQueueItem enqueues a new PR for a repository.
func (s *Store) CreatePrQueueItem(ctx context.Context, p *models.PrQueueItem) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pr_queue_items (id, epic, repository, worktree_id, branch, title, body, pr_number, status, merge_strategy, owner_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Epic, p.Repository, p.WorktreeID, p.Branch, p.Title, p.Body, nullableInt(p.PRNumber), p.Status, p.MergeStrategy, nullableStr(p.OwnerAgent), now, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert pr queue item", err)
	}
	return nil
}

type prQueueRow struct {
	ID            string         `db:"id"`
	Epic          string         `db:"epic"`
	Repository    string         `db:"repository"`
	WorktreeID    string         `db:"worktree_id"`
	Branch        string         `db:"branch"`
	Title         string         `db:"title"`
	Body          string         `db:"body"`
	PRNumber      sql.NullInt64  `db:"pr_number"`
	Status        string         `db:"status"`
	MergeStrategy string         `db:"merge_strategy"`
	OwnerAgent    sql.NullString `db:"owner_agent"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func (r prQueueRow) toModel() (models.PrQueueItem, error) {
	p := models.PrQueueItem{
		ID: r.ID, Epic: r.Epic, Repository: r.Repository, WorktreeID: r.WorktreeID, Branch: r.Branch,
		Title: r.Title, Body: r.Body, Status: models.PrQueueStatus(r.Status), MergeStrategy: models.MergeStrategy(r.MergeStrategy),
	}
	if r.PRNumber.Valid {
		n := int(r.PRNumber.Int64)
		p.PRNumber = &n
	}
	if r.OwnerAgent.Valid {
		p.OwnerAgent = &r.OwnerAgent.String
	}
	var err error
	if p.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.PrQueueItem{}, err
	}
	if p.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.PrQueueItem{}, err
	}
	return p, nil
}

// RepositoryHasActiveLock reports whether any PR for the repository is
// currently in one of models.ActiveLockStatuses: at most one PR per
// repository may be creating or merging at once.
func (s *Store) RepositoryHasActiveLock(ctx context.Context, repository string) (bool, error) {
	query, args, err := sqlxIn(`SELECT COUNT(1) FROM pr_queue_items WHERE repository = ? AND status IN (?)`, repository, toStringSlice(models.ActiveLockStatuses))
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, apperr.Wrap(apperr.KindStorageUnavailable, "count active pr locks", err)
	}
	return count > 0, nil
}

// SetPrQueueStatus transitions a PR queue item's status, enforcing the
// repository advisory lock when moving into an active-lock status.
func (s *Store) SetPrQueueStatus(ctx context.Context, id string, status models.PrQueueStatus) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		var repository string
		if err := tx.tx.GetContext(ctx, &repository, `SELECT repository FROM pr_queue_items WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("pr_queue_item", id)
			}
			return apperr.Wrap(apperr.KindStorageUnavailable, "select pr repository", err)
		}
		if isActiveLockStatus(status) {
			var count int
			query, args, err := sqlxIn(`SELECT COUNT(1) FROM pr_queue_items WHERE repository = ? AND id != ? AND status IN (?)`, repository, id, toStringSlice(models.ActiveLockStatuses))
			if err != nil {
				return fmt.Errorf("build query: %w", err)
			}
			if err := tx.tx.GetContext(ctx, &count, query, args...); err != nil {
				return apperr.Wrap(apperr.KindStorageUnavailable, "count active pr locks", err)
			}
			if count > 0 {
				return apperr.InvariantViolation(fmt.Sprintf("repository %q already has an active pr in creating/merging", repository))
			}
		}
		res, err := tx.tx.ExecContext(ctx, `UPDATE pr_queue_items SET status = ?, updated_at = ? WHERE id = ?`, status, nowRFC3339(), id)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "update pr queue status", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("pr_queue_item", id)
		}
		return nil
	})
}

func isActiveLockStatus(status models.PrQueueStatus) bool {
	for _, s := range models.ActiveLockStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// SetPrNumber records the GitHub-assigned PR number once created.
func (s *Store) SetPrNumber(ctx context.Context, id string, number int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pr_queue_items SET pr_number = ?, updated_at = ? WHERE id = ?`, number, nowRFC3339(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "set pr number", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("pr_queue_item", id)
	}
	return nil
}

// GetPrQueueItem fetches one PR queue item by ID.
func (s *Store) GetPrQueueItem(ctx context.Context, id string) (models.PrQueueItem, error) {
	var row prQueueRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pr_queue_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PrQueueItem{}, apperr.NotFound("pr_queue_item", id)
	}
	if err != nil {
		return models.PrQueueItem{}, apperr.Wrap(apperr.KindStorageUnavailable, "select pr queue item", err)
	}
	return row.toModel()
}

// ListPrQueueByRepository lists PR queue items for a repository, oldest first.
func (s *Store) ListPrQueueByRepository(ctx context.Context, repository string) ([]models.PrQueueItem, error) {
	var rows []prQueueRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM pr_queue_items WHERE repository = ? ORDER BY created_at ASC`, repository); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select pr queue items", err)
	}
	out := make([]models.PrQueueItem, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
