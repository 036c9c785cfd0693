// Package scheduler evaluates cron-defined Schedules and fires
// idempotent agent-spawn events into the event queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentflow/orchestrator/internal/eventqueue"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// EventType is the webhook_events.type the scheduler enqueues when a
// Schedule fires. The agentcore/coordinator wiring registers a handler
// for this type that spawns the configured agent kind.
const EventType = "schedule.fire"

// parser is the standard 5-field cron parser (minute hour dom month
// dow), matching the field set every Schedule.Expression is validated
// against.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateExpression reports whether expr parses as a 5-field cron
// expression. Called at schedule-creation time to fail fast.
func ValidateExpression(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRunAfter computes the first occurrence of expr strictly after
// from, used to seed a new Schedule's NextRun at creation time.
func NextRunAfter(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// Scheduler polls the store for due schedules and enqueues one
// schedule.fire event per tick, deduplicated by a deterministic
// delivery id so re-evaluation after a crash never double-fires.
type Scheduler struct {
	store *store.Store
	queue *eventqueue.Queue
}

// New builds a Scheduler over the given store and event queue.
func New(s *store.Store, q *eventqueue.Queue) *Scheduler {
	return &Scheduler{store: s, queue: q}
}

// Tick evaluates every enabled schedule whose next_run has arrived as
// of now, fires each according to its MissedRunPolicy, and advances
// its bookkeeping. Returns the number of schedules fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDueSchedules(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}

	fired := 0
	for _, sch := range due {
		n, err := s.fireSchedule(ctx, sch, now)
		if err != nil {
			slog.Error("schedule tick failed", "schedule_id", sch.ID, "name", sch.Name, "error", err)
			continue
		}
		fired += n
	}
	return fired, nil
}

// fireSchedule fires sch for every tick it owes since its last
// next_run, according to MissedRun: FireOnceCatchup fires exactly once
// for the whole backlog (catching up to "now" without replaying every
// missed minute), Skip fires only the most recent due tick and
// silently advances past any others.
func (s *Scheduler) fireSchedule(ctx context.Context, sch models.Schedule, now time.Time) (int, error) {
	schedule, err := parser.Parse(sch.Expression)
	if err != nil {
		return 0, fmt.Errorf("parse schedule %q expression: %w", sch.ID, err)
	}

	firedFor := sch.NextRun
	next := schedule.Next(firedFor)

	// Fast-forward next past every tick already missed. Skip also moves
	// firedFor along, firing only the one that is due right now.
	for next.Before(now) {
		if sch.MissedRun == models.MissedRunSkip {
			firedFor = next
		}
		next = schedule.Next(next)
	}

	if err := s.fireOnce(ctx, sch, firedFor, next); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Scheduler) fireOnce(ctx context.Context, sch models.Schedule, firedFor, next time.Time) error {
	deliveryID := fmt.Sprintf("sched:%s:%s", sch.ID, firedFor.Format(time.RFC3339))
	now := time.Now().UTC()

	event, err := s.queue.Enqueue(ctx, EventType, deliveryID, map[string]any{
		"schedule_id": sch.ID,
		"agent_kind":  string(sch.AgentKind),
		"task":        sch.Task,
		"fired_for":   firedFor.Format(time.RFC3339),
	}, DefaultMaxRetries)
	duplicate := false
	if err != nil {
		if !isConflict(err) {
			return fmt.Errorf("enqueue schedule fire for %q: %w", sch.ID, err)
		}
		duplicate = true
	}

	if err := s.store.AdvanceSchedule(ctx, sch.ID, firedFor, next); err != nil {
		return fmt.Errorf("advance schedule %q: %w", sch.ID, err)
	}

	if duplicate {
		return nil
	}

	run := &models.ScheduleRun{
		ScheduleID:     sch.ID,
		ScheduledFor:   firedFor,
		FiredAt:        now,
		DeliveryID:     deliveryID,
		WebhookEventID: event.ID,
	}
	if err := s.store.RecordScheduleRun(ctx, run); err != nil && !isConflict(err) {
		return fmt.Errorf("record schedule run for %q: %w", sch.ID, err)
	}
	return nil
}

// DefaultMaxRetries bounds how many times a schedule.fire event is
// retried before dead-lettering, shared with manual run-now firings.
const DefaultMaxRetries = 5
