// Package eventqueue implements the durable FIFO event queue: webhook
// deliveries are enqueued idempotently, dispatched to handlers with
// exponential backoff on failure, and retired to dead-letter once
// their retry budget is exhausted.
package eventqueue

import (
	"context"
	"errors"
	"time"

	"github.com/agentflow/orchestrator/internal/models"
)

// ErrNoEventsAvailable is returned by a worker's poll when nothing is
// eligible for dispatch right now.
var ErrNoEventsAvailable = errors.New("eventqueue: no events available")

// ErrAtCapacity is returned when the in-flight event count has reached
// the configured concurrency ceiling.
var ErrAtCapacity = errors.New("eventqueue: at capacity")

// Handler processes one event's payload. Returning an error triggers a
// retry with backoff; returning nil acks the event.
type Handler func(ctx context.Context, event models.WebhookEvent) error

// BackoffPolicy computes the delay before the next retry attempt,
// attempt starting at 1 for the first failure.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64 // fraction of the computed delay, e.g. 0.1 for +/-10%
}

// DefaultBackoffPolicy is 1s base, factor 2, capped at 1 hour, +/-10%
// jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:   time.Second,
		Factor: 2,
		Max:    time.Hour,
		Jitter: 0.1,
	}
}

// EventTypeHandlers maps an event's Type field to the handler
// registered for it. An unregistered type is nacked with a descriptive
// error like any handler failure, so it is retried with backoff until
// its retry budget moves it to dead-letter.
type EventTypeHandlers map[string]Handler
