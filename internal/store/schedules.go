package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// CreateSchedule registers a new cron-driven schedule.
func (s *Store) CreateSchedule(ctx context.Context, sch *models.Schedule) error {
	if sch.ID == "" {
		sch.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, expression, agent_kind, task, enabled, missed_run, last_run, next_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.Name, sch.Expression, sch.AgentKind, sch.Task, sch.Enabled, sch.MissedRun,
		nullableTime(sch.LastRun), sch.NextRun.Format(time.RFC3339Nano), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("schedule %q already exists", sch.Name))
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert schedule", err)
	}
	return nil
}

type scheduleRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Expression string         `db:"expression"`
	AgentKind  string         `db:"agent_kind"`
	Task       string         `db:"task"`
	Enabled    bool           `db:"enabled"`
	MissedRun  string         `db:"missed_run"`
	LastRun    sql.NullString `db:"last_run"`
	NextRun    string         `db:"next_run"`
	CreatedAt  string         `db:"created_at"`
	UpdatedAt  string         `db:"updated_at"`
}

func (r scheduleRow) toModel() (models.Schedule, error) {
	sch := models.Schedule{
		ID: r.ID, Name: r.Name, Expression: r.Expression, AgentKind: models.AgentKind(r.AgentKind),
		Task: r.Task, Enabled: r.Enabled, MissedRun: models.MissedRunPolicy(r.MissedRun),
	}
	var err error
	if sch.NextRun, err = parseTime(r.NextRun); err != nil {
		return models.Schedule{}, err
	}
	if sch.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return models.Schedule{}, err
	}
	if sch.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.Schedule{}, err
	}
	if r.LastRun.Valid {
		t, err := parseTime(r.LastRun.String)
		if err != nil {
			return models.Schedule{}, err
		}
		sch.LastRun = &t
	}
	return sch, nil
}

// ListDueSchedules returns every enabled schedule due for
// evaluation, i.e. next_run <= asOf.
func (s *Store) ListDueSchedules(ctx context.Context, asOf time.Time) ([]models.Schedule, error) {
	var rows []scheduleRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM schedules WHERE enabled = 1 AND next_run <= ? ORDER BY next_run ASC`, asOf.Format(time.RFC3339Nano))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select due schedules", err)
	}
	out := make([]models.Schedule, 0, len(rows))
	for _, r := range rows {
		sch, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, nil
}

// GetSchedule fetches one schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id string) (models.Schedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM schedules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Schedule{}, apperr.NotFound("schedule", id)
	}
	if err != nil {
		return models.Schedule{}, apperr.Wrap(apperr.KindStorageUnavailable, "select schedule", err)
	}
	return row.toModel()
}

// AdvanceSchedule updates a schedule's last/next run bookkeeping after
// firing, using optimistic concurrency on the previous next_run value
// so two scheduler instances can't double-fire the same tick.
func (s *Store) AdvanceSchedule(ctx context.Context, id string, firedFor, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET last_run = ?, next_run = ?, updated_at = ?
		WHERE id = ? AND next_run = ?`,
		firedFor.Format(time.RFC3339Nano), nextRun.Format(time.RFC3339Nano), nowRFC3339(), id, firedFor.Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "advance schedule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict(fmt.Sprintf("schedule %q was already advanced past %s", id, firedFor))
	}
	return nil
}

// SetScheduleEnabled flips a schedule's enabled flag, used by the
// `schedule pause` operator action (a disabled schedule is simply
// excluded from ListDueSchedules; its next_run bookkeeping is
// untouched so re-enabling resumes on the existing cadence).
func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, nowRFC3339(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "set schedule enabled", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("schedule", id)
	}
	return nil
}

// RecordScheduleRun logs one firing for audit/debugging, keyed by a
// deterministic delivery id so re-evaluating the same tick is a no-op.
func (s *Store) RecordScheduleRun(ctx context.Context, run *models.ScheduleRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_runs (id, schedule_id, scheduled_for, fired_at, delivery_id, webhook_event_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScheduleID, run.ScheduledFor.Format(time.RFC3339Nano), run.FiredAt.Format(time.RFC3339Nano), run.DeliveryID, run.WebhookEventID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("schedule run %q already recorded", run.DeliveryID))
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert schedule run", err)
	}
	return nil
}
