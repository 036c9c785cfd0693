package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/eventqueue"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scheduler_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, eventqueue.New(s)), s
}

func TestValidateExpression_RejectsGarbage(t *testing.T) {
	assert.NoError(t, ValidateExpression("*/5 * * * *"))
	assert.Error(t, ValidateExpression("not a cron expression"))
}

func TestScheduler_TickFiresDueSchedule(t *testing.T) {
	sched, s := newTestScheduler(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sch := &models.Schedule{
		Name:       "nightly-sweep",
		Expression: "0 * * * *", // hourly on the hour
		AgentKind:  models.AgentKindScheduler,
		Task:       "sweep stale worktrees",
		Enabled:    true,
		MissedRun:  models.MissedRunFireOnceCatchup,
		NextRun:    now,
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))

	fired, err := sched.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	updated, err := s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastRun)
	assert.Equal(t, now, updated.LastRun.UTC())
	assert.True(t, updated.NextRun.After(now))
}

func TestScheduler_TickSkipsScheduleNotYetDue(t *testing.T) {
	sched, s := newTestScheduler(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sch := &models.Schedule{
		Name:       "far-future",
		Expression: "0 0 1 1 *",
		AgentKind:  models.AgentKindScheduler,
		Task:       "noop",
		Enabled:    true,
		MissedRun:  models.MissedRunSkip,
		NextRun:    now.Add(24 * time.Hour),
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))

	fired, err := sched.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}

func TestScheduler_TickIsIdempotentUnderRepeatedEvaluation(t *testing.T) {
	sched, s := newTestScheduler(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sch := &models.Schedule{
		Name:       "every-minute",
		Expression: "* * * * *",
		AgentKind:  models.AgentKindScheduler,
		Task:       "noop",
		Enabled:    true,
		MissedRun:  models.MissedRunFireOnceCatchup,
		NextRun:    now,
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))

	fired, err := sched.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	// Re-evaluating at the exact same instant must not double-fire: the
	// schedule's next_run has already advanced past `now`.
	fired, err = sched.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}
