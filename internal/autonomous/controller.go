package autonomous

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// pausedFromKey stashes the state a session was in when Pause was
// called, inside its Config blob, so Resume can restore it. Config is
// a free-form map already; there's no dedicated column for this and
// adding one for a single transient field isn't worth a migration.
const pausedFromKey = "_paused_from"

// DefaultMaxReviewIterations bounds Executing<->Reviewing round-trips
// per story before the controller treats it as review ping-pong.
const DefaultMaxReviewIterations = 3

// Controller drives AutonomousSession transitions and the story
// work-queue. It never talks to agents directly — agent spawning is
// the coordinator's job via the same kind of narrow interface pipeline
// uses for StageSpawner.
type Controller struct {
	store *store.Store
}

// New builds a Controller over the given store.
func New(s *store.Store) *Controller {
	return &Controller{store: s}
}

// StartSession creates a new AutonomousSession for an epic in Idle and
// immediately advances it to Analyzing.
func (c *Controller) StartSession(ctx context.Context, epicID string, workQueue []models.WorkQueueItem, config map[string]any) (models.AutonomousSession, error) {
	sess := &models.AutonomousSession{
		EpicID:    epicID,
		State:     models.AutonomousStateIdle,
		Config:    config,
		WorkQueue: workQueue,
		StartedAt: time.Now(),
	}
	if err := c.store.CreateAutonomousSession(ctx, sess); err != nil {
		return models.AutonomousSession{}, err
	}
	created, err := c.store.GetAutonomousSession(ctx, sess.ID)
	if err != nil {
		return models.AutonomousSession{}, err
	}
	return c.Advance(ctx, created, models.AutonomousStateAnalyzing)
}

// Advance moves a session to a new meta-state, rejecting anything not
// in the transitions table. It always writes the full session row
// through the store; the store itself doesn't arbitrate legality.
func (c *Controller) Advance(ctx context.Context, sess models.AutonomousSession, to models.AutonomousState) (models.AutonomousSession, error) {
	if !CanTransition(sess.State, to) {
		return models.AutonomousSession{}, apperr.InvariantViolation(
			fmt.Sprintf("illegal autonomous transition %q -> %q", sess.State, to))
	}
	sess.State = to
	sess.UpdatedAt = time.Now()
	if err := c.store.UpdateAutonomousSession(ctx, &sess); err != nil {
		return models.AutonomousSession{}, err
	}
	return c.store.GetAutonomousSession(ctx, sess.ID)
}

// Pause records the state a session was in and moves it to Paused.
func (c *Controller) Pause(ctx context.Context, sess models.AutonomousSession, reason string) (models.AutonomousSession, error) {
	if !activeStates[sess.State] {
		return models.AutonomousSession{}, apperr.InvariantViolation(
			fmt.Sprintf("cannot pause a session in %q", sess.State))
	}
	if sess.Config == nil {
		sess.Config = map[string]any{}
	}
	sess.Config[pausedFromKey] = string(sess.State)
	sess.PauseReason = &reason
	return c.Advance(ctx, sess, models.AutonomousStatePaused)
}

// Resume restores the state a session was in before it was paused.
func (c *Controller) Resume(ctx context.Context, sess models.AutonomousSession) (models.AutonomousSession, error) {
	if sess.State != models.AutonomousStatePaused {
		return models.AutonomousSession{}, apperr.InvariantViolation("session is not paused")
	}
	raw, ok := sess.Config[pausedFromKey]
	if !ok {
		return models.AutonomousSession{}, apperr.InvariantViolation("no paused-from state recorded")
	}
	from, ok := raw.(string)
	if !ok {
		return models.AutonomousSession{}, apperr.InvariantViolation("paused-from state malformed")
	}
	to := models.AutonomousState(from)
	if !activeStates[to] {
		return models.AutonomousSession{}, apperr.InvariantViolation(fmt.Sprintf("paused-from state %q is not resumable", from))
	}
	delete(sess.Config, pausedFromKey)
	sess.PauseReason = nil
	// Paused -> <active state> is a restore, not a forward transition,
	// so it bypasses the transitions table the same way Advance's
	// CanTransition check would otherwise reject it.
	sess.State = to
	sess.UpdatedAt = time.Now()
	if err := c.store.UpdateAutonomousSession(ctx, &sess); err != nil {
		return models.AutonomousSession{}, err
	}
	return c.store.GetAutonomousSession(ctx, sess.ID)
}

// Block moves a session to Blocked with a reason, from any active state.
func (c *Controller) Block(ctx context.Context, sess models.AutonomousSession, reason string) (models.AutonomousSession, error) {
	sess.BlockedReason = &reason
	return c.Advance(ctx, sess, models.AutonomousStateBlocked)
}

// Unblock resumes a blocked session into Executing.
func (c *Controller) Unblock(ctx context.Context, sess models.AutonomousSession) (models.AutonomousSession, error) {
	sess.BlockedReason = nil
	return c.Advance(ctx, sess, models.AutonomousStateExecuting)
}

// AdvanceToNextStory dequeues the next WorkQueueItem and marks it
// current, or moves the session to Done if the queue is exhausted.
func (c *Controller) AdvanceToNextStory(ctx context.Context, sess models.AutonomousSession) (models.AutonomousSession, error) {
	if len(sess.WorkQueue) == 0 {
		return c.Advance(ctx, sess, models.AutonomousStateDone)
	}
	next := sess.WorkQueue[0]
	sess.WorkQueue = sess.WorkQueue[1:]
	sess.CompletedItems = append(sess.CompletedItems, next)
	sess.CurrentStoryID = &next.StoryID
	return c.Advance(ctx, sess, models.AutonomousStatePlanning)
}

// CompletionCriteria bundles the gates that must all hold before a
// story may leave Reviewing.
type CompletionCriteria struct {
	AllCriteriaMet  bool
	CIGreen         bool
	ReviewApproved  bool
	NoCriticalIssue bool
	MergeableState  bool
	NoBlockedSignal bool
}

// Passed reports whether every completion gate holds.
func (c CompletionCriteria) Passed() bool {
	return c.AllCriteriaMet && c.CIGreen && c.ReviewApproved && c.NoCriticalIssue && c.MergeableState && c.NoBlockedSignal
}

// EvaluateStory reads the latest CodeReviewResult and records a
// StoryEvaluation, returning whether the story may advance past
// Reviewing.
func (c *Controller) EvaluateStory(ctx context.Context, storyID string, criteriaMet, criteriaTotal int, ciGreen, mergeableState, blockedSignalPresent bool) (models.StoryEvaluation, error) {
	review, err := c.store.LatestCodeReviewResult(ctx, storyID)
	reviewApproved := false
	noCritical := true
	if err == nil {
		reviewApproved = review.Verdict == models.ReviewVerdictApproved
		for _, issue := range review.Issues {
			if issue.Severity == models.IssueSeverityCritical || issue.Severity == models.IssueSeverityHigh {
				noCritical = false
				break
			}
		}
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return models.StoryEvaluation{}, err
	}

	crit := CompletionCriteria{
		AllCriteriaMet:  criteriaMet >= criteriaTotal,
		CIGreen:         ciGreen,
		ReviewApproved:  reviewApproved,
		NoCriticalIssue: noCritical,
		MergeableState:  mergeableState,
		NoBlockedSignal: !blockedSignalPresent,
	}

	eval := &models.StoryEvaluation{
		StoryID: storyID, CriteriaMet: criteriaMet, CriteriaTotal: criteriaTotal,
		CIGreen: ciGreen, ReviewApproved: reviewApproved && noCritical,
		MergeableState: mergeableState, BlockedSignalPresent: blockedSignalPresent,
		Passed: crit.Passed(),
	}
	if err := c.store.RecordStoryEvaluation(ctx, eval); err != nil {
		return models.StoryEvaluation{}, err
	}
	return *eval, nil
}

// ReviewPingPong reports whether a story has hit the review-iteration
// bound, the trigger for the recovery table's "escalate to human" rule.
func (c *Controller) ReviewPingPong(ctx context.Context, storyID string, maxIterations int) (bool, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxReviewIterations
	}
	n, err := c.store.CountReviewIterations(ctx, storyID)
	if err != nil {
		return false, err
	}
	return n >= maxIterations, nil
}

// ModelTier is the advisory model-selection tier for a dispatched agent.
type ModelTier string

const (
	ModelTierFast     ModelTier = "fast"
	ModelTierStandard ModelTier = "standard"
	ModelTierPremium  ModelTier = "premium"
)

// SelectModel implements the advisory escalation policy: standard by
// default, premium after two failed iterations, fast for pure search
// tasks regardless of iteration count.
func SelectModel(failedIterations int, pureSearch bool) ModelTier {
	if pureSearch {
		return ModelTierFast
	}
	if failedIterations >= 2 {
		return ModelTierPremium
	}
	return ModelTierStandard
}
