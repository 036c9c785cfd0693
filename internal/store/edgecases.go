package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// RecordEdgeCaseEvent logs one detected anomaly and rolls the learning
// table of accumulated remedies forward.
func (s *Store) RecordEdgeCaseEvent(ctx context.Context, e *models.EdgeCaseEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode edge case detail: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edge_case_events (id, autonomous_session_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.AutonomousSessionID, e.Kind, string(detailJSON), now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert edge case event", err)
	}
	return nil
}

// UpsertEdgeCaseLearning records or bumps the observation count for a
// remedy associated with an EdgeCaseKind.
func (s *Store) UpsertEdgeCaseLearning(ctx context.Context, kind models.EdgeCaseKind, remedy string) error {
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edge_case_learnings (id, kind, remedy, times_seen, last_seen_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind) DO UPDATE SET remedy = excluded.remedy, times_seen = times_seen + 1, last_seen_at = excluded.last_seen_at`,
		uuid.NewString(), kind, remedy, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "upsert edge case learning", err)
	}
	return nil
}

// GetEdgeCaseLearning looks up the accumulated remedy for a kind, if any.
func (s *Store) GetEdgeCaseLearning(ctx context.Context, kind models.EdgeCaseKind) (models.EdgeCaseLearning, error) {
	var l models.EdgeCaseLearning
	var k string
	var lastSeenAt string
	row := s.db.QueryRowxContext(ctx, `SELECT id, kind, remedy, times_seen, last_seen_at FROM edge_case_learnings WHERE kind = ?`, kind)
	if err := row.Scan(&l.ID, &k, &l.Remedy, &l.TimesSeen, &lastSeenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.EdgeCaseLearning{}, apperr.NotFound("edge_case_learning", string(kind))
		}
		return models.EdgeCaseLearning{}, apperr.Wrap(apperr.KindStorageUnavailable, "select edge case learning", err)
	}
	l.Kind = models.EdgeCaseKind(k)
	ts, err := parseTime(lastSeenAt)
	if err != nil {
		return models.EdgeCaseLearning{}, err
	}
	l.LastSeenAt = ts
	return l, nil
}

// RecordStuckDetection logs a positive stuck heuristic firing.
func (s *Store) RecordStuckDetection(ctx context.Context, d *models.StuckDetection) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	detailJSON, err := json.Marshal(d.Detail)
	if err != nil {
		return fmt.Errorf("encode stuck detection detail: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stuck_detections (id, agent_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.AgentID, d.Kind, string(detailJSON), now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert stuck detection", err)
	}
	return nil
}

// CountRecentStuckDetections counts StuckDetections for an agent, used
// by the recovery policy table to escalate after repeated firings.
func (s *Store) CountRecentStuckDetections(ctx context.Context, agentID string, kind models.StuckDetectionKind) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM stuck_detections WHERE agent_id = ? AND kind = ?`, agentID, kind)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageUnavailable, "count stuck detections", err)
	}
	return count, nil
}

// RecordRecoveryAttempt logs the action the controller took for a
// StuckDetection.
func (s *Store) RecordRecoveryAttempt(ctx context.Context, a *models.RecoveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_attempts (id, stuck_detection_id, agent_id, action, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.StuckDetectionID, a.AgentID, a.Action, a.Outcome, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert recovery attempt", err)
	}
	return nil
}

// RecordCodeReviewResult persists one review verdict for a story.
func (s *Store) RecordCodeReviewResult(ctx context.Context, r *models.CodeReviewResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	issuesJSON, err := json.Marshal(r.Issues)
	if err != nil {
		return fmt.Errorf("encode review issues: %w", err)
	}
	now := nowRFC3339()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO code_review_results (id, story_id, agent_id, iteration, verdict, issues, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StoryID, r.AgentID, r.Iteration, r.Verdict, string(issuesJSON), now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert code review result", err)
	}
	return nil
}

// LatestCodeReviewResult returns the most recent review verdict for a story.
func (s *Store) LatestCodeReviewResult(ctx context.Context, storyID string) (models.CodeReviewResult, error) {
	var id, agentID, verdict, issuesJSON, createdAt string
	var iteration int
	row := s.db.QueryRowxContext(ctx, `SELECT id, agent_id, iteration, verdict, issues, created_at FROM code_review_results WHERE story_id = ? ORDER BY iteration DESC LIMIT 1`, storyID)
	if err := row.Scan(&id, &agentID, &iteration, &verdict, &issuesJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CodeReviewResult{}, apperr.NotFound("code_review_result for story", storyID)
		}
		return models.CodeReviewResult{}, apperr.Wrap(apperr.KindStorageUnavailable, "select code review result", err)
	}
	var issues []models.ReviewIssue
	if err := json.Unmarshal([]byte(issuesJSON), &issues); err != nil {
		return models.CodeReviewResult{}, fmt.Errorf("decode review issues: %w", err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return models.CodeReviewResult{}, err
	}
	return models.CodeReviewResult{
		ID: id, StoryID: storyID, AgentID: agentID, Iteration: iteration,
		Verdict: models.ReviewVerdict(verdict), Issues: issues, CreatedAt: ts,
	}, nil
}

// RecordStoryEvaluation persists a completion-gate evaluation snapshot.
func (s *Store) RecordStoryEvaluation(ctx context.Context, e *models.StoryEvaluation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO story_evaluations (id, story_id, criteria_met, criteria_total, ci_green, review_approved, mergeable_state, blocked_signal_present, passed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StoryID, e.CriteriaMet, e.CriteriaTotal, e.CIGreen, e.ReviewApproved, e.MergeableState, e.BlockedSignalPresent, e.Passed, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert story evaluation", err)
	}
	return nil
}

// RecordCiCheckResult upserts the latest conclusion for a named check
// on a PR, keyed by (pr_queue_id, check_name).
func (s *Store) RecordCiCheckResult(ctx context.Context, r *models.CiCheckResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := nowRFC3339()
	res, err := s.db.ExecContext(ctx, `UPDATE ci_check_results SET conclusion = ?, updated_at = ? WHERE pr_queue_id = ? AND check_name = ?`,
		r.Conclusion, now, r.PrQueueID, r.CheckName)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "update ci check result", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ci_check_results (id, pr_queue_id, check_name, conclusion, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.PrQueueID, r.CheckName, r.Conclusion, now, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert ci check result", err)
	}
	return nil
}

// ListCiCheckResults returns every recorded check for a PR.
func (s *Store) ListCiCheckResults(ctx context.Context, prQueueID string) ([]models.CiCheckResult, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT id, pr_queue_id, check_name, conclusion, updated_at, created_at FROM ci_check_results WHERE pr_queue_id = ? ORDER BY updated_at DESC`, prQueueID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select ci check results", err)
	}
	defer rows.Close()
	var out []models.CiCheckResult
	for rows.Next() {
		var r models.CiCheckResult
		var updatedAt, createdAt string
		if err := rows.Scan(&r.ID, &r.PrQueueID, &r.CheckName, &r.Conclusion, &updatedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ci check result: %w", err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordReviewIteration logs one executing/reviewing round trip.
func (s *Store) RecordReviewIteration(ctx context.Context, it *models.ReviewIteration) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_iterations (id, story_id, iteration, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		it.ID, it.StoryID, it.Iteration, it.Outcome, now,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert review iteration", err)
	}
	return nil
}

// CountReviewIterations returns how many review rounds a story has
// had, used to detect review-ping-pong.
func (s *Store) CountReviewIterations(ctx context.Context, storyID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM review_iterations WHERE story_id = ?`, storyID); err != nil {
		return 0, apperr.Wrap(apperr.KindStorageUnavailable, "count review iterations", err)
	}
	return count, nil
}
