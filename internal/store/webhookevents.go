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

// EnqueueWebhookEvent inserts a new durable event. DeliveryID
// uniqueness is the idempotency boundary: a duplicate delivery is
// reported as apperr.Conflict so the caller can treat it as a
// successful no-op.
func (s *Store) EnqueueWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	now := nowRFC3339()
	if e.NextRetryAt.IsZero() {
		e.NextRetryAt, _ = parseTime(now)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, delivery_id, type, payload, status, retry_count, max_retries, next_retry_at, error, received_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeliveryID, e.Type, string(payloadJSON), e.Status, e.RetryCount, e.MaxRetries, e.NextRetryAt.Format(time.RFC3339Nano), nullableStr(e.Error), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("delivery %q already enqueued", e.DeliveryID))
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert webhook event", err)
	}
	return nil
}

type webhookEventRow struct {
	ID          string         `db:"id"`
	DeliveryID  string         `db:"delivery_id"`
	Type        string         `db:"type"`
	Payload     string         `db:"payload"`
	Status      string         `db:"status"`
	RetryCount  int            `db:"retry_count"`
	MaxRetries  int            `db:"max_retries"`
	NextRetryAt string         `db:"next_retry_at"`
	Error       sql.NullString `db:"error"`
	ReceivedAt  string         `db:"received_at"`
	UpdatedAt   string         `db:"updated_at"`
}

func (r webhookEventRow) toModel() (models.WebhookEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
		return models.WebhookEvent{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	e := models.WebhookEvent{
		ID: r.ID, DeliveryID: r.DeliveryID, Type: r.Type, Payload: payload,
		Status: models.WebhookEventStatus(r.Status), RetryCount: r.RetryCount, MaxRetries: r.MaxRetries,
	}
	if r.Error.Valid {
		e.Error = &r.Error.String
	}
	var err error
	if e.NextRetryAt, err = parseTime(r.NextRetryAt); err != nil {
		return models.WebhookEvent{}, err
	}
	if e.ReceivedAt, err = parseTime(r.ReceivedAt); err != nil {
		return models.WebhookEvent{}, err
	}
	if e.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return models.WebhookEvent{}, err
	}
	return e, nil
}

// DequeueNextWebhookEvent atomically claims the oldest eligible pending
// event (next_retry_at <= now), ordered FIFO by received_at within
// type, and marks it Processing. Returns apperr.NotFound when nothing
// is eligible.
func (s *Store) DequeueNextWebhookEvent(ctx context.Context) (models.WebhookEvent, error) {
	var out models.WebhookEvent
	err := s.WithTx(ctx, func(tx *Tx) error {
		var row webhookEventRow
		now := nowRFC3339()
		err := tx.tx.GetContext(ctx, &row, `
			SELECT * FROM webhook_events
			WHERE status = ? AND next_retry_at <= ?
			ORDER BY received_at ASC
			LIMIT 1`, models.WebhookEventStatusPending, now)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("webhook_event", "eligible")
		}
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "select next webhook event", err)
		}
		res, err := tx.tx.ExecContext(ctx, `UPDATE webhook_events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			models.WebhookEventStatusProcessing, now, row.ID, models.WebhookEventStatusPending)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "claim webhook event", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.Conflict("webhook event claimed by another worker")
		}
		row.Status = string(models.WebhookEventStatusProcessing)
		out, err = row.toModel()
		return err
	})
	return out, err
}

// AckWebhookEvent marks an event permanently completed.
func (s *Store) AckWebhookEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE webhook_events SET status = ?, updated_at = ? WHERE id = ?`, models.WebhookEventStatusCompleted, nowRFC3339(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "ack webhook event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("webhook_event", id)
	}
	return nil
}

// NackWebhookEvent records a processing failure, incrementing
// retry_count and scheduling nextRetryAt. If retry_count would reach
// max_retries, the event moves to dead-letter instead of pending.
func (s *Store) NackWebhookEvent(ctx context.Context, id string, cause error, nextRetryAt time.Time) error {
	now := nowRFC3339()
	errMsg := cause.Error()
	return s.WithTx(ctx, func(tx *Tx) error {
		var retryCount, maxRetries int
		row := tx.tx.QueryRowxContext(ctx, `SELECT retry_count, max_retries FROM webhook_events WHERE id = ?`, id)
		if err := row.Scan(&retryCount, &maxRetries); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("webhook_event", id)
			}
			return apperr.Wrap(apperr.KindStorageUnavailable, "select webhook event for nack", err)
		}
		newCount := retryCount + 1
		status := models.WebhookEventStatusPending
		if newCount >= maxRetries {
			status = models.WebhookEventStatusDeadLetter
		}
		_, err := tx.tx.ExecContext(ctx, `
			UPDATE webhook_events SET status = ?, retry_count = ?, next_retry_at = ?, error = ?, updated_at = ?
			WHERE id = ?`,
			status, newCount, nextRetryAt.Format(time.RFC3339Nano), errMsg, now, id,
		)
		if err != nil {
			return apperr.Wrap(apperr.KindStorageUnavailable, "nack webhook event", err)
		}
		return nil
	})
}

// RevertInFlight transitions every Processing event back to Pending,
// used when the worker pool starts so work left in flight by an
// earlier exit is retried rather than lost.
func (s *Store) RevertInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE webhook_events SET status = ?, updated_at = ? WHERE status = ?`,
		models.WebhookEventStatusPending, nowRFC3339(), models.WebhookEventStatusProcessing)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageUnavailable, "revert in-flight webhook events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeWebhookEventsOlderThan deletes terminal (completed or
// dead-letter) events last updated before cutoff, used by the
// retention sweep so the durable queue table doesn't grow unbounded.
// Pending/processing events are never purged regardless of age.
func (s *Store) PurgeWebhookEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_events
		WHERE status IN (?, ?) AND updated_at < ?`,
		models.WebhookEventStatusCompleted, models.WebhookEventStatusDeadLetter, cutoff.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageUnavailable, "purge old webhook events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetWebhookEventByDeliveryID supports idempotent re-delivery checks.
func (s *Store) GetWebhookEventByDeliveryID(ctx context.Context, deliveryID string) (models.WebhookEvent, error) {
	var row webhookEventRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM webhook_events WHERE delivery_id = ?`, deliveryID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WebhookEvent{}, apperr.NotFound("webhook_event", deliveryID)
	}
	if err != nil {
		return models.WebhookEvent{}, apperr.Wrap(apperr.KindStorageUnavailable, "select webhook event by delivery id", err)
	}
	return row.toModel()
}
