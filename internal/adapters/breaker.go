package adapters

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker builds a per-adapter circuit breaker: trips after 3
// consecutive failures, half-opens after 30s, allows 2 probe requests.
func NewBreaker(name string, onStateChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: onStateChange,
	})
}

// Guard runs fn through a circuit breaker, translating an open breaker
// into a transient AdapterError so the queue's retry/backoff handles
// it the same way it handles any other transient adapter failure. The
// non-generic gobreaker v1 API returns interface{}, so callers type
// assert the result back to T.
func Guard[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, adapter string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := cb.Execute(func() (any, error) { return fn(ctx) })
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, Transient(adapter, "circuit breaker open", 30*time.Second, err)
		}
		return zero, err
	}
	result, ok := raw.(T)
	if !ok {
		return zero, Fatal(adapter, "circuit breaker returned unexpected type", nil)
	}
	return result, nil
}
