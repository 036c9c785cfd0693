package scheduler

import "github.com/agentflow/orchestrator/internal/apperr"

func isConflict(err error) bool {
	return apperr.Is(err, apperr.KindConflict)
}
