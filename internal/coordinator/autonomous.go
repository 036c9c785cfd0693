package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentflow/orchestrator/internal/agentcore"
	"github.com/agentflow/orchestrator/internal/autonomous"
	"github.com/agentflow/orchestrator/internal/models"
)

// defaultAutonomousDriveInterval controls how often the drive loop
// re-evaluates every active AutonomousSession: dispatching the agent
// its current meta-state needs, or reading the outcome of the one
// already in flight.
const defaultAutonomousDriveInterval = 20 * time.Second

// maxStoryRetries bounds how many fresh agents the drive loop will
// spawn for the same story/review step after a prior attempt failed,
// before blocking the session for a human to look at. Retrying never
// resurrects the failed Agent row — agentcore keeps Failed terminal —
// it always spawns a new one, the same way a human operator would.
const maxStoryRetries = 2

func (c *Coordinator) runAutonomousLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultAutonomousDriveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.driveAutonomousSessions(ctx); err != nil {
				slog.Error("autonomous drive loop failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) driveAutonomousSessions(ctx context.Context) error {
	sessions, err := c.store.ListActiveAutonomousSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active autonomous sessions: %w", err)
	}
	for _, sess := range sessions {
		if err := c.driveSession(ctx, sess); err != nil {
			slog.Error("drive autonomous session failed",
				"session_id", sess.ID, "epic_id", sess.EpicID, "state", sess.State, "error", err)
		}
	}
	return nil
}

// driveSession advances one AutonomousSession by exactly one unit of
// work per tick: dispatch the agent its current meta-state needs, or
// act on the outcome of the agent already in flight. A stalled session
// never blocks the others sharing this loop.
func (c *Coordinator) driveSession(ctx context.Context, sess models.AutonomousSession) error {
	ctx, span := c.startSpan(ctx, spanAutonomousDrive,
		attribute.String("session_id", sess.ID), attribute.String("state", string(sess.State)))
	defer span.End()

	switch sess.State {
	case models.AutonomousStateAnalyzing:
		_, err := c.autoCtrl.Advance(ctx, sess, models.AutonomousStateDiscovering)
		return err

	case models.AutonomousStateDiscovering:
		_, err := c.autoCtrl.AdvanceToNextStory(ctx, sess)
		return err

	case models.AutonomousStatePlanning:
		return c.dispatchStoryDeveloper(ctx, sess)

	case models.AutonomousStateExecuting:
		return c.driveExecuting(ctx, sess)

	case models.AutonomousStateReviewing:
		return c.driveReviewing(ctx, sess)

	case models.AutonomousStatePrCreation:
		return c.drivePrCreation(ctx, sess)

	case models.AutonomousStatePrMonitoring:
		return c.drivePrMonitoring(ctx, sess)

	case models.AutonomousStatePrFixing:
		return c.drivePrFixing(ctx, sess)

	case models.AutonomousStatePrMerging:
		return c.drivePrMerging(ctx, sess)

	case models.AutonomousStateCompleting:
		_, err := c.autoCtrl.Advance(ctx, sess, models.AutonomousStateDiscovering)
		return err

	default:
		return nil
	}
}

// spawnAutonomousAgent starts an agent on behalf of sess, tagging its
// context with the session/epic/story it belongs to the same way
// spawnScheduled tags a schedule-fired agent.
func (c *Coordinator) spawnAutonomousAgent(ctx context.Context, sess models.AutonomousSession, kind models.AgentKind, task string) (models.Agent, error) {
	custom := map[string]any{"autonomous_session_id": sess.ID}
	agentCtx := models.AgentContext{Epic: sess.EpicID, Custom: custom}
	if sess.CurrentStoryID != nil {
		agentCtx.Story = *sess.CurrentStoryID
		custom["story_id"] = *sess.CurrentStoryID
	}
	agent := &models.Agent{Kind: kind, Task: task, Context: agentCtx}
	spawned, err := c.core.Spawn(ctx, agent, nil)
	if err != nil {
		return models.Agent{}, fmt.Errorf("spawn %s agent for session %q: %w", kind, sess.ID, err)
	}
	c.metrics.RecordAgentSpawned(string(kind))
	return spawned, nil
}

// dispatchStoryDeveloper starts Planning's story-developer agent and
// advances the session into Executing once it is running.
func (c *Coordinator) dispatchStoryDeveloper(ctx context.Context, sess models.AutonomousSession) error {
	if sess.CurrentStoryID == nil {
		return fmt.Errorf("session %q is planning with no current story", sess.ID)
	}
	story, err := c.store.GetStory(ctx, *sess.CurrentStoryID)
	if err != nil {
		return err
	}
	agent, err := c.spawnAutonomousAgent(ctx, sess, models.AgentKindStoryDeveloper,
		fmt.Sprintf("implement story %q: %s", story.ID, story.Title))
	if err != nil {
		return err
	}
	sess.CurrentAgentID = &agent.ID
	if sess.Config == nil {
		sess.Config = map[string]any{}
	}
	sess.Config[storyDeveloperAgentKey] = agent.ID
	_, err = c.autoCtrl.Advance(ctx, sess, models.AutonomousStateExecuting)
	return err
}

// storyDeveloperAgentKey stashes the story-developer agent's ID in a
// session's Config blob, the same way pausedFromKey stashes the
// pre-pause state, so Reviewing can find it again to drive a
// continuation once the agent it spawned has already moved on to a
// code-reviewer.
const storyDeveloperAgentKey = "_story_developer_agent_id"

// driveExecuting reads the outcome of the story-developer agent
// dispatched from Planning: on success it hands the story to a code
// reviewer, on failure it retries with a fresh agent up to
// maxStoryRetries before blocking the session.
func (c *Coordinator) driveExecuting(ctx context.Context, sess models.AutonomousSession) error {
	if sess.CurrentAgentID == nil {
		return fmt.Errorf("session %q is executing with no current agent", sess.ID)
	}
	agent, err := c.store.GetAgent(ctx, *sess.CurrentAgentID)
	if err != nil {
		return err
	}
	switch agent.State {
	case models.AgentStateCompleted:
		return c.dispatchCodeReviewer(ctx, sess)
	case models.AgentStateFailed, models.AgentStateTerminated:
		return c.retryOrBlock(ctx, sess, agent, "story-developer agent failed", c.dispatchStoryDeveloper)
	default:
		return nil // still running; the supervisor sweep flags it if it stalls
	}
}

// retryOrBlock implements the per-story retry bound: it records a
// repeated-error detection against the failed agent, and either
// re-dispatches (spawning a brand new Agent — Failed never resumes)
// or blocks the session once maxStoryRetries is exhausted.
func (c *Coordinator) retryOrBlock(ctx context.Context, sess models.AutonomousSession, failed models.Agent, reason string, redispatch func(context.Context, models.AutonomousSession) error) error {
	attempts, err := c.store.CountRecentStuckDetections(ctx, failed.ID, models.StuckRepeatedError)
	if err != nil {
		return err
	}
	if attempts >= maxStoryRetries {
		_, err := c.autoCtrl.Block(ctx, sess, fmt.Sprintf("%s (agent %s) after %d retries", reason, failed.ID, attempts))
		return err
	}
	detail := map[string]any{"reason": reason}
	if failed.ErrorMessage != nil {
		detail["error"] = *failed.ErrorMessage
	}
	if err := c.store.RecordStuckDetection(ctx, &models.StuckDetection{
		AgentID: failed.ID, Kind: models.StuckRepeatedError, Detail: detail,
	}); err != nil {
		return err
	}
	sess.Metrics.RecoveryAttempts++
	return redispatch(ctx, sess)
}

// dispatchCodeReviewer starts Executing's follow-up code-reviewer
// agent and advances the session into Reviewing.
func (c *Coordinator) dispatchCodeReviewer(ctx context.Context, sess models.AutonomousSession) error {
	if sess.CurrentStoryID == nil {
		return fmt.Errorf("session %q has no current story to review", sess.ID)
	}
	story, err := c.store.GetStory(ctx, *sess.CurrentStoryID)
	if err != nil {
		return err
	}
	agent, err := c.spawnAutonomousAgent(ctx, sess, models.AgentKindCodeReviewer,
		fmt.Sprintf("review story %q: %s", story.ID, story.Title))
	if err != nil {
		return err
	}
	sess.CurrentAgentID = &agent.ID
	_, err = c.autoCtrl.Advance(ctx, sess, models.AutonomousStateReviewing)
	return err
}

// driveReviewing reads the outcome of the code-reviewer agent: on
// completion it records the verdict, evaluates the story's completion
// gates, and either moves on to PrCreation, re-enters Executing with a
// structured continuation carrying the review feedback, or escalates
// once the review has ping-ponged past its bound.
func (c *Coordinator) driveReviewing(ctx context.Context, sess models.AutonomousSession) error {
	if sess.CurrentAgentID == nil || sess.CurrentStoryID == nil {
		return fmt.Errorf("session %q is reviewing with no current agent/story", sess.ID)
	}
	reviewer, err := c.store.GetAgent(ctx, *sess.CurrentAgentID)
	if err != nil {
		return err
	}
	switch reviewer.State {
	case models.AgentStateFailed, models.AgentStateTerminated:
		return c.retryOrBlock(ctx, sess, reviewer, "code-reviewer agent failed", c.dispatchCodeReviewer)
	case models.AgentStateCompleted:
	default:
		return nil
	}

	storyID := *sess.CurrentStoryID
	story, err := c.store.GetStory(ctx, storyID)
	if err != nil {
		return err
	}

	review, err := c.recordReviewFromAgent(ctx, storyID, reviewer)
	if err != nil {
		return err
	}
	iteration, err := c.store.CountReviewIterations(ctx, storyID)
	if err != nil {
		return err
	}
	if err := c.store.RecordReviewIteration(ctx, &models.ReviewIteration{
		StoryID: storyID, Iteration: iteration + 1, Outcome: string(review.Verdict),
	}); err != nil {
		return err
	}
	sess.Metrics.ReviewIterations++

	criteriaTotal := len(story.AcceptanceCriteria)
	if criteriaTotal == 0 {
		criteriaTotal = 1
	}
	criteriaMet := 0
	if review.Verdict == models.ReviewVerdictApproved {
		criteriaMet = criteriaTotal
	}
	eval, err := c.autoCtrl.EvaluateStory(ctx, storyID, criteriaMet, criteriaTotal, true, true, false)
	if err != nil {
		return err
	}
	if eval.Passed {
		_, err := c.autoCtrl.Advance(ctx, sess, models.AutonomousStatePrCreation)
		return err
	}

	maxIterations := configInt(sess.Config, "max_review_iterations", autonomous.DefaultMaxReviewIterations)
	pingPong, err := c.autoCtrl.ReviewPingPong(ctx, storyID, maxIterations)
	if err != nil {
		return err
	}
	if pingPong {
		decision := autonomous.DecideRecovery("", true, false, false)
		_, err := c.autoCtrl.Block(ctx, sess, decision.Detail)
		return err
	}
	return c.reenterExecutingWithContinuation(ctx, sess, review)
}

// recordReviewFromAgent derives a CodeReviewResult from the reviewer
// agent's final assistant turn. A real review verdict is a structured
// tool call in production; this drive loop only has the agent's last
// message to go on, so it falls back to a literal "approved" scan.
func (c *Coordinator) recordReviewFromAgent(ctx context.Context, storyID string, reviewer models.Agent) (models.CodeReviewResult, error) {
	messages, err := c.store.Messages(ctx, reviewer.ID)
	if err != nil {
		return models.CodeReviewResult{}, err
	}
	verdict := models.ReviewVerdictRequestedChanges
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.MessageRoleAssistant {
			continue
		}
		if strings.Contains(strings.ToLower(messages[i].Content), "approved") {
			verdict = models.ReviewVerdictApproved
		}
		break
	}
	iteration, err := c.store.CountReviewIterations(ctx, storyID)
	if err != nil {
		return models.CodeReviewResult{}, err
	}
	result := &models.CodeReviewResult{
		StoryID: storyID, AgentID: reviewer.ID, Iteration: iteration + 1, Verdict: verdict,
	}
	if err := c.store.RecordCodeReviewResult(ctx, result); err != nil {
		return models.CodeReviewResult{}, err
	}
	return *result, nil
}

// reenterExecutingWithContinuation queues an AgentContinuation on the
// story-developer agent stashed under storyDeveloperAgentKey, carrying
// the review's feedback, and drives it back through agentcore's
// Completed->Running continuation re-entry before moving the session
// back to Executing.
func (c *Coordinator) reenterExecutingWithContinuation(ctx context.Context, sess models.AutonomousSession, review models.CodeReviewResult) error {
	devAgentID, _ := sess.Config[storyDeveloperAgentKey].(string)
	if devAgentID == "" {
		return fmt.Errorf("session %q has no story-developer agent recorded to continue", sess.ID)
	}

	cont := &models.AgentContinuation{
		AgentID: devAgentID,
		Reason:  "review_feedback",
		Message: fmt.Sprintf("code review requested changes (iteration %d); address the reported issues", review.Iteration),
		Context: map[string]any{"story_id": *sess.CurrentStoryID, "review_id": review.ID},
		Status:  models.ContinuationStatusPending,
	}
	if err := c.store.CreateAgentContinuation(ctx, cont); err != nil {
		return err
	}
	if _, err := c.core.Advance(ctx, devAgentID, agentcore.TriggerContinuation); err != nil {
		if setErr := c.store.SetContinuationStatus(ctx, cont.ID, models.ContinuationStatusFailed, nil); setErr != nil {
			slog.Error("mark continuation failed also failed", "continuation_id", cont.ID, "error", setErr)
		}
		return fmt.Errorf("continue story-developer agent %q: %w", devAgentID, err)
	}
	if err := c.store.SetContinuationStatus(ctx, cont.ID, models.ContinuationStatusExecuting, nil); err != nil {
		return err
	}

	sess.CurrentAgentID = &devAgentID
	_, err := c.autoCtrl.Advance(ctx, sess, models.AutonomousStateExecuting)
	return err
}

// prQueueIDKey stashes the PrQueueItem a session is carrying through
// PrCreation/PrMonitoring/PrFixing/PrMerging, the same way
// storyDeveloperAgentKey stashes the agent Reviewing needs back.
const prQueueIDKey = "_pr_queue_item_id"

// drivePrCreation enqueues a PrQueueItem for the current story and
// dispatches a pr-shepherd agent to open it, then moves straight to
// PrMonitoring, which owns all CI polling.
func (c *Coordinator) drivePrCreation(ctx context.Context, sess models.AutonomousSession) error {
	if sess.CurrentStoryID == nil {
		return fmt.Errorf("session %q is in pr_creation with no current story", sess.ID)
	}
	story, err := c.store.GetStory(ctx, *sess.CurrentStoryID)
	if err != nil {
		return err
	}
	repository := configString(sess.Config, "repository", sess.EpicID)

	item := &models.PrQueueItem{
		Epic:          sess.EpicID,
		Repository:    repository,
		WorktreeID:    configString(sess.Config, storyDeveloperAgentKey, story.ID),
		Branch:        fmt.Sprintf("story/%s", story.ID),
		Title:         story.Title,
		Status:        models.PrQueueStatusQueued,
		MergeStrategy: models.MergeStrategySquash,
	}
	if err := c.store.CreatePrQueueItem(ctx, item); err != nil {
		return err
	}

	agent, err := c.spawnAutonomousAgent(ctx, sess, models.AgentKindPrShepherd,
		fmt.Sprintf("open a pull request for story %q against %s", story.ID, repository))
	if err != nil {
		return err
	}

	sess.CurrentAgentID = &agent.ID
	if sess.Config == nil {
		sess.Config = map[string]any{}
	}
	sess.Config[prQueueIDKey] = item.ID
	_, err = c.autoCtrl.Advance(ctx, sess, models.AutonomousStatePrMonitoring)
	return err
}

// drivePrMonitoring polls the PrQueueItem's recorded CI checks once
// its shepherd/fixer agent has finished running: all-green moves on to
// PrMerging, any failure moves to PrFixing, and no checks yet simply
// waits for the next tick.
func (c *Coordinator) drivePrMonitoring(ctx context.Context, sess models.AutonomousSession) error {
	prQueueID, _ := sess.Config[prQueueIDKey].(string)
	if prQueueID == "" {
		return fmt.Errorf("session %q is pr_monitoring with no pr queue item recorded", sess.ID)
	}
	if sess.CurrentAgentID != nil {
		agent, err := c.store.GetAgent(ctx, *sess.CurrentAgentID)
		if err != nil {
			return err
		}
		switch agent.State {
		case models.AgentStateFailed, models.AgentStateTerminated:
			return c.retryOrBlock(ctx, sess, agent, "pr agent failed", func(ctx context.Context, sess models.AutonomousSession) error {
				return c.drivePrCreation(ctx, sess)
			})
		case models.AgentStateCompleted:
			// fall through to check CI
		default:
			return nil
		}
	}

	checks, err := c.store.ListCiCheckResults(ctx, prQueueID)
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		return nil
	}
	for _, check := range checks {
		if check.Conclusion != "success" {
			return c.drivePrFixingDispatch(ctx, sess, prQueueID)
		}
	}
	_, err = c.autoCtrl.Advance(ctx, sess, models.AutonomousStatePrMerging)
	return err
}

func (c *Coordinator) drivePrFixingDispatch(ctx context.Context, sess models.AutonomousSession, prQueueID string) error {
	agent, err := c.spawnAutonomousAgent(ctx, sess, models.AgentKindIssueFixer,
		fmt.Sprintf("fix the failing checks on pr queue item %q", prQueueID))
	if err != nil {
		return err
	}
	sess.CurrentAgentID = &agent.ID
	_, err = c.autoCtrl.Advance(ctx, sess, models.AutonomousStatePrFixing)
	return err
}

// drivePrFixing waits for the issue-fixer agent PrMonitoring dispatched
// and, once it completes, returns to PrMonitoring to re-poll CI.
func (c *Coordinator) drivePrFixing(ctx context.Context, sess models.AutonomousSession) error {
	if sess.CurrentAgentID == nil {
		return fmt.Errorf("session %q is pr_fixing with no current agent", sess.ID)
	}
	agent, err := c.store.GetAgent(ctx, *sess.CurrentAgentID)
	if err != nil {
		return err
	}
	switch agent.State {
	case models.AgentStateCompleted:
		_, err := c.autoCtrl.Advance(ctx, sess, models.AutonomousStatePrMonitoring)
		return err
	case models.AgentStateFailed, models.AgentStateTerminated:
		return c.retryOrBlock(ctx, sess, agent, "issue-fixer agent failed", func(ctx context.Context, sess models.AutonomousSession) error {
			prQueueID, _ := sess.Config[prQueueIDKey].(string)
			return c.drivePrFixingDispatch(ctx, sess, prQueueID)
		})
	default:
		return nil
	}
}

// drivePrMerging marks the PrQueueItem merged, bumps the session's
// running PRsMerged counter, and hands the story off to Completing.
// It makes no forge merge call and does not check whether the
// operator's `pr merge` (cmd/orchestratord) has already run: an item
// not yet marked merged is marked merged here.
func (c *Coordinator) drivePrMerging(ctx context.Context, sess models.AutonomousSession) error {
	prQueueID, _ := sess.Config[prQueueIDKey].(string)
	if prQueueID == "" {
		return fmt.Errorf("session %q is pr_merging with no pr queue item recorded", sess.ID)
	}
	item, err := c.store.GetPrQueueItem(ctx, prQueueID)
	if err != nil {
		return err
	}
	if item.Status != models.PrQueueStatusMerged {
		if err := c.store.SetPrQueueStatus(ctx, prQueueID, models.PrQueueStatusMerged); err != nil {
			return err
		}
	}
	sess.Metrics.PRsMerged++
	sess.Metrics.StoriesCompleted++
	_, err = c.autoCtrl.Advance(ctx, sess, models.AutonomousStateCompleting)
	return err
}

func configString(cfg map[string]any, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
