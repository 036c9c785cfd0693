package autonomous

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestController(t *testing.T) (*Controller, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "autonomous_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func seedEpic(t *testing.T, s *store.Store) models.Epic {
	t.Helper()
	e := &models.Epic{Title: "epic", Status: models.WorkItemStatusActive}
	require.NoError(t, s.CreateEpic(context.Background(), e))
	got, err := s.GetEpic(context.Background(), e.ID)
	require.NoError(t, err)
	return got
}

func TestController_StartSessionReachesAnalyzing(t *testing.T) {
	c, s := newTestController(t)
	epic := seedEpic(t, s)

	sess, err := c.StartSession(context.Background(), epic.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AutonomousStateAnalyzing, sess.State)
}

func TestController_AdvanceToNextStoryExhaustsQueueIntoDone(t *testing.T) {
	c, s := newTestController(t)
	epic := seedEpic(t, s)
	ctx := context.Background()

	sess, err := c.StartSession(ctx, epic.ID, []models.WorkQueueItem{{StoryID: "story-1", Sequence: 1}}, nil)
	require.NoError(t, err)
	sess, err = c.Advance(ctx, sess, models.AutonomousStateDiscovering)
	require.NoError(t, err)

	sess, err = c.AdvanceToNextStory(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, models.AutonomousStatePlanning, sess.State)
	require.NotNil(t, sess.CurrentStoryID)
	assert.Equal(t, "story-1", *sess.CurrentStoryID)
	assert.Empty(t, sess.WorkQueue)

	sess, err = c.Advance(ctx, sess, models.AutonomousStateExecuting)
	require.NoError(t, err)
	sess, err = c.Advance(ctx, sess, models.AutonomousStateReviewing)
	require.NoError(t, err)
	sess, err = c.Advance(ctx, sess, models.AutonomousStatePrCreation)
	require.NoError(t, err)
	sess, err = c.Advance(ctx, sess, models.AutonomousStatePrMonitoring)
	require.NoError(t, err)
	sess, err = c.Advance(ctx, sess, models.AutonomousStatePrMerging)
	require.NoError(t, err)
	sess, err = c.Advance(ctx, sess, models.AutonomousStateCompleting)
	require.NoError(t, err)

	sess, err = c.AdvanceToNextStory(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, models.AutonomousStateDone, sess.State)
}

func TestController_PauseThenResumeRestoresPriorState(t *testing.T) {
	c, s := newTestController(t)
	epic := seedEpic(t, s)
	ctx := context.Background()

	sess, err := c.StartSession(ctx, epic.ID, nil, nil)
	require.NoError(t, err)
	sess, err = c.Advance(ctx, sess, models.AutonomousStateDiscovering)
	require.NoError(t, err)

	paused, err := c.Pause(ctx, sess, "operator request")
	require.NoError(t, err)
	assert.Equal(t, models.AutonomousStatePaused, paused.State)
	require.NotNil(t, paused.PauseReason)

	resumed, err := c.Resume(ctx, paused)
	require.NoError(t, err)
	assert.Equal(t, models.AutonomousStateDiscovering, resumed.State)
	assert.Nil(t, resumed.PauseReason)
}

func TestController_BlockAndUnblock(t *testing.T) {
	c, s := newTestController(t)
	epic := seedEpic(t, s)
	ctx := context.Background()

	sess, err := c.StartSession(ctx, epic.ID, nil, nil)
	require.NoError(t, err)

	blocked, err := c.Block(ctx, sess, "unrecoverable CI failure")
	require.NoError(t, err)
	assert.Equal(t, models.AutonomousStateBlocked, blocked.State)

	unblocked, err := c.Unblock(ctx, blocked)
	require.NoError(t, err)
	assert.Equal(t, models.AutonomousStateExecuting, unblocked.State)
}

func TestController_EvaluateStoryFailsWithoutReview(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	eval, err := c.EvaluateStory(ctx, "story-1", 3, 3, true, true, false)
	require.NoError(t, err)
	assert.False(t, eval.Passed)
	assert.False(t, eval.ReviewApproved)
}

func TestController_EvaluateStoryPassesWhenAllGatesHold(t *testing.T) {
	c, s := newTestController(t)
	ctx := context.Background()

	require.NoError(t, s.RecordCodeReviewResult(ctx, &models.CodeReviewResult{
		StoryID: "story-1", AgentID: "agent-1", Iteration: 1,
		Verdict: models.ReviewVerdictApproved,
	}))

	eval, err := c.EvaluateStory(ctx, "story-1", 3, 3, true, true, false)
	require.NoError(t, err)
	assert.True(t, eval.Passed)
}

func TestSelectModel_EscalatesAfterTwoFailures(t *testing.T) {
	assert.Equal(t, ModelTierStandard, SelectModel(0, false))
	assert.Equal(t, ModelTierStandard, SelectModel(1, false))
	assert.Equal(t, ModelTierPremium, SelectModel(2, false))
	assert.Equal(t, ModelTierFast, SelectModel(5, true))
}
