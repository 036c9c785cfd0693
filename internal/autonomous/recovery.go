package autonomous

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/agentcore"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// RecoveryDecision is what the policy table selects for a given
// StuckDetection: an action plus enough context for the coordinator to
// actually carry it out (it still owns agent construction, the same
// way it owns pipeline.StageSpawner).
type RecoveryDecision struct {
	Action  models.RecoveryAction
	Detail  string
	Blocked bool // true if the decision also requires moving the session to Blocked
}

// recoveryOrder lists the stuck-detection kinds in the row order of the
// recovery table. DecideRecovery does not read it: each call handles a
// single kind, after first checking the conflict, ping-pong and
// rate-limit flags in that order.
var recoveryOrder = []models.StuckDetectionKind{
	models.StuckContextNearCap,
	models.StuckRepeatedError,
	models.StuckCIStale,
	models.StuckReviewSLA,
	models.StuckNoProgress,
	models.StuckTurnBudget,
}

// DecideRecovery maps a StuckDetectionKind to the action the policy
// table prescribes. pingPong and conflictDetected refine the decision
// for kinds whose action depends on extra context the bare kind alone
// doesn't carry.
func DecideRecovery(kind models.StuckDetectionKind, pingPong, conflictDetected, rateLimited bool) RecoveryDecision {
	if conflictDetected {
		return RecoveryDecision{Action: models.RecoverySpawnConflictResolver, Detail: "merge conflict detected"}
	}
	if pingPong {
		return RecoveryDecision{Action: models.RecoveryEscalateHuman, Detail: "review ping-pong exceeded bound", Blocked: true}
	}
	if rateLimited {
		return RecoveryDecision{Action: models.RecoveryBackoff, Detail: "rate limited"}
	}

	switch kind {
	case models.StuckContextNearCap:
		return RecoveryDecision{Action: models.RecoveryForkSession, Detail: "context near cap, summarising and continuing"}
	case models.StuckRepeatedError:
		return RecoveryDecision{Action: models.RecoveryEscalateModel, Detail: "repeated identical error, escalating model and resetting turn budget"}
	case models.StuckCIStale:
		return RecoveryDecision{Action: models.RecoveryRequeryCI, Detail: "CI check stale, requerying"}
	case models.StuckReviewSLA:
		return RecoveryDecision{Action: models.RecoveryRequeryCI, Detail: "review SLA exceeded, waiting"}
	case models.StuckNoProgress, models.StuckTurnBudget:
		return RecoveryDecision{Action: models.RecoveryEscalateModel, Detail: "no progress, escalating model"}
	default:
		return RecoveryDecision{Action: models.RecoveryBlock, Detail: fmt.Sprintf("unrecognised stuck kind %q", kind), Blocked: true}
	}
}

// RecoveryPolicy wires agentcore's stuck-sweep detection into the
// recovery table above, recording the resulting RecoveryAttempt and
// escalating to Blocked once an agent has exhausted its configured
// number of recovery retries.
type RecoveryPolicy struct {
	store *store.Store
	core  *agentcore.Core
}

// NewRecoveryPolicy builds a RecoveryPolicy over the given store and
// agent core.
func NewRecoveryPolicy(s *store.Store, core *agentcore.Core) *RecoveryPolicy {
	return &RecoveryPolicy{store: s, core: core}
}

// HandleDetection records a RecoveryAttempt for one StuckDetection and
// reports whether the owning session should move to Blocked instead
// (either because the policy itself demands it, e.g. review ping-pong,
// or because the escalation threshold in cfg has been exceeded).
func (p *RecoveryPolicy) HandleDetection(ctx context.Context, cfg agentcore.StuckSweepConfig, d models.StuckDetection, pingPong, conflictDetected, rateLimited bool) (RecoveryDecision, error) {
	decision := DecideRecovery(d.Kind, pingPong, conflictDetected, rateLimited)

	escalate, err := p.core.ShouldEscalate(ctx, cfg, d.AgentID, d.Kind)
	if err != nil {
		return RecoveryDecision{}, err
	}
	if escalate && !decision.Blocked {
		decision = RecoveryDecision{Action: models.RecoveryBlock, Detail: "max recovery attempts exceeded", Blocked: true}
	}

	attempt := &models.RecoveryAttempt{
		StuckDetectionID: d.ID,
		AgentID:          d.AgentID,
		Action:           decision.Action,
		Outcome:          decision.Detail,
	}
	if err := p.store.RecordRecoveryAttempt(ctx, attempt); err != nil {
		return RecoveryDecision{}, err
	}
	return decision, nil
}
