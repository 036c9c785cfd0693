package autonomous

import (
	"context"
	"time"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// CIStaleThreshold is the default SLA after which a PrMonitoring CI
// check is treated as delayed (S3).
const CIStaleThreshold = 30 * time.Minute

// CheckCIStale inspects the most recent CiCheckResult for a PR and, if
// its last update exceeds threshold, records an EdgeCaseEvent of kind
// delayed-ci-review. Returns whether the check was found stale.
func CheckCIStale(ctx context.Context, s *store.Store, sessionID, prQueueID string, threshold time.Duration, now time.Time) (bool, error) {
	results, err := s.ListCiCheckResults(ctx, prQueueID)
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		return false, nil
	}
	latest := results[0]
	if now.Sub(latest.UpdatedAt) <= threshold {
		return false, nil
	}
	err = s.RecordEdgeCaseEvent(ctx, &models.EdgeCaseEvent{
		AutonomousSessionID: sessionID,
		Kind:                models.EdgeCaseDelayedCIReview,
		Detail: map[string]any{
			"pr_queue_id": prQueueID,
			"last_update": latest.UpdatedAt,
			"stale_for":   now.Sub(latest.UpdatedAt).String(),
		},
	})
	return true, err
}

// RecordLearnedRemedy rolls an edge case's resolution into the
// accumulated-learning table so future occurrences of the same kind
// can short-circuit straight to a known-working remedy.
func RecordLearnedRemedy(ctx context.Context, s *store.Store, kind models.EdgeCaseKind, remedy string) error {
	return s.UpsertEdgeCaseLearning(ctx, kind, remedy)
}
