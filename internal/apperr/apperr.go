// Package apperr defines the closed error taxonomy shared by every
// core component. Adapter errors are normalised into this taxonomy at
// the adapter boundary so the core never sees foreign exception types.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the closed set of error categories the orchestrator reports.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInvariantViolation  Kind = "invariant_violation"
	KindDependencyNotReady  Kind = "dependency_not_ready"
	KindTransient           Kind = "transient"
	KindFatalExternal       Kind = "fatal_external"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindCancelled           Kind = "cancelled"
)

// Error is the single error shape every component returns. Message is
// human-readable; RetryAfter is only meaningful for KindTransient.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a causing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter attaches a retry-after hint and returns the receiver
// for chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// NotFound is a convenience constructor for the common case.
func NotFound(resource, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

// Conflict is a convenience constructor for idempotency/optimistic
// concurrency violations.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// InvariantViolation is a convenience constructor for illegal state
// transitions, cycles, or unresolved dependencies.
func InvariantViolation(message string) *Error {
	return New(KindInvariantViolation, message)
}

// DependencyNotReady is the agent-core specific subclass of
// InvariantViolation.
func DependencyNotReady(agentID string) *Error {
	return &Error{
		Kind:    KindDependencyNotReady,
		Message: fmt.Sprintf("agent %q has required dependencies that are not Completed", agentID),
	}
}
