package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// Queue is the durable event queue's storage-facing half: enqueue,
// claim, ack, and nack. Dispatch concurrency lives in Pool.
type Queue struct {
	store   *store.Store
	backoff BackoffPolicy
}

// New builds a Queue over the given store using the default backoff
// policy.
func New(s *store.Store) *Queue {
	return &Queue{store: s, backoff: DefaultBackoffPolicy()}
}

// WithBackoff overrides the backoff policy (used by tests).
func (q *Queue) WithBackoff(p BackoffPolicy) *Queue {
	q.backoff = p
	return q
}

// Enqueue durably records a new event. A duplicate DeliveryID is
// reported as apperr.Conflict and should be treated by callers as an
// already-accepted delivery, not an error.
func (q *Queue) Enqueue(ctx context.Context, eventType string, deliveryID string, payload map[string]any, maxRetries int) (models.WebhookEvent, error) {
	event := models.WebhookEvent{
		DeliveryID: deliveryID,
		Type:       eventType,
		Payload:    payload,
		Status:     models.WebhookEventStatusPending,
		MaxRetries: maxRetries,
	}
	if err := q.store.EnqueueWebhookEvent(ctx, &event); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			existing, getErr := q.store.GetWebhookEventByDeliveryID(ctx, deliveryID)
			if getErr != nil {
				return models.WebhookEvent{}, err
			}
			return existing, err
		}
		return models.WebhookEvent{}, err
	}
	return event, nil
}

// Claim atomically claims the oldest eligible pending event.
func (q *Queue) Claim(ctx context.Context) (models.WebhookEvent, error) {
	event, err := q.store.DequeueNextWebhookEvent(ctx)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return models.WebhookEvent{}, ErrNoEventsAvailable
		}
		return models.WebhookEvent{}, err
	}
	return event, nil
}

// Ack marks an event permanently completed.
func (q *Queue) Ack(ctx context.Context, id string) error {
	return q.store.AckWebhookEvent(ctx, id)
}

// Nack records a processing failure and schedules the next retry, or
// moves the event to dead-letter if its retry budget is spent.
func (q *Queue) Nack(ctx context.Context, id string, attempt int, cause error) error {
	next := q.backoff.NextRetryAt(time.Now(), attempt)
	return q.store.NackWebhookEvent(ctx, id, cause, next)
}

// Requeue reverts every in-flight (Processing) event back to Pending.
// Pool.Start calls it once, so events left Processing by an earlier
// exit are retried rather than lost.
func (q *Queue) Requeue(ctx context.Context) (int64, error) {
	return q.store.RevertInFlight(ctx)
}

// Dispatch claims and processes exactly one event with the handler
// registered for its type. Returns ErrNoEventsAvailable when the queue
// is empty.
func (q *Queue) Dispatch(ctx context.Context, handlers EventTypeHandlers) error {
	event, err := q.Claim(ctx)
	if err != nil {
		return err
	}

	handler, ok := handlers[event.Type]
	if !ok {
		return q.Nack(ctx, event.ID, event.RetryCount+1, fmt.Errorf("no handler registered for event type %q", event.Type))
	}

	if err := handler(ctx, event); err != nil {
		if nackErr := q.Nack(ctx, event.ID, event.RetryCount+1, err); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return nil
	}
	return q.Ack(ctx, event.ID)
}
