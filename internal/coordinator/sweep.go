package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentflow/orchestrator/internal/adapters"
	"github.com/agentflow/orchestrator/internal/agentcore"
	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// defaultSweepInterval runs the stuck-agent sweep every couple of
// minutes; this daemon runs a single node so a tighter interval costs
// little.
const defaultSweepInterval = 2 * time.Minute

// runSweepLoop periodically scans for stuck agents and escalates any
// that have exhausted their recovery attempts, against
// agentcore.Core.Sweep over this module's own store.
func (c *Coordinator) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := c.sweepOnce(ctx, now.UTC()); err != nil {
				slog.Error("supervisor sweep failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) sweepOnce(ctx context.Context, now time.Time) error {
	ctx, span := c.startSpan(ctx, spanSupervisorSweep)
	defer span.End()

	cfg := agentcore.DefaultStuckSweepConfig()
	flagged, err := c.core.Sweep(ctx, cfg, now)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("flagged_count", len(flagged)))
	if len(flagged) == 0 {
		return nil
	}
	slog.Info("supervisor sweep flagged stuck agents", "count", len(flagged))

	for _, detection := range flagged {
		if err := c.handleStuckDetection(ctx, cfg, detection); err != nil {
			slog.Error("handle stuck detection failed", "agent_id", detection.AgentID, "error", err)
		}
	}
	return nil
}

// handleStuckDetection runs one flagged StuckDetection through the
// recovery policy table and carries out whatever it decides. Agents
// an AutonomousSession is driving are escalated into that session's
// own Blocked state rather than torn down outright, since a human
// revisiting a blocked session can resume it; plain pipeline-stage
// agents have no such recovery path and fall back to termination, the
// supervisor's original behavior.
func (c *Coordinator) handleStuckDetection(ctx context.Context, cfg agentcore.StuckSweepConfig, detection models.StuckDetection) error {
	sess, err := c.store.GetAutonomousSessionByAgent(ctx, detection.AgentID)
	owned := err == nil
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}

	decision, err := c.recovery.HandleDetection(ctx, cfg, detection, false, false, false)
	if err != nil {
		return fmt.Errorf("decide recovery for agent %q: %w", detection.AgentID, err)
	}

	switch decision.Action {
	case models.RecoverySpawnConflictResolver:
		return c.spawnConflictResolver(ctx, owned, sess, detection)
	case models.RecoveryBlock, models.RecoveryEscalateHuman:
		if owned {
			_, err := c.autoCtrl.Block(ctx, sess, decision.Detail)
			return err
		}
		return c.terminateStuckAgent(ctx, detection.AgentID, decision.Detail)
	default:
		// RecoveryEscalateModel, RecoveryRequeryCI, RecoveryForkSession,
		// and RecoveryBackoff are advisory: the next agent this session
		// or pipeline stage dispatches picks them up (see SelectModel),
		// there's nothing further for the sweep itself to execute.
		slog.Info("recovery policy recorded advisory action", "agent_id", detection.AgentID, "action", decision.Action, "detail", decision.Detail)
		return nil
	}
}

func (c *Coordinator) spawnConflictResolver(ctx context.Context, owned bool, sess models.AutonomousSession, detection models.StuckDetection) error {
	if owned {
		agent, err := c.spawnAutonomousAgent(ctx, sess, models.AgentKindConflictResolver,
			fmt.Sprintf("resolve merge conflict blocking agent %s", detection.AgentID))
		if err != nil {
			return err
		}
		sess.CurrentAgentID = &agent.ID
		return c.store.UpdateAutonomousSession(ctx, &sess)
	}
	agent := &models.Agent{Kind: models.AgentKindConflictResolver, Task: fmt.Sprintf("resolve merge conflict blocking agent %s", detection.AgentID)}
	if _, err := c.core.Spawn(ctx, agent, nil); err != nil {
		return err
	}
	c.metrics.RecordAgentSpawned(string(models.AgentKindConflictResolver))
	return nil
}

func (c *Coordinator) terminateStuckAgent(ctx context.Context, agentID, reason string) error {
	terminated, err := c.core.Terminate(ctx, agentID, "stuck: "+reason)
	if err != nil {
		return fmt.Errorf("terminate stuck agent: %w", err)
	}
	c.metrics.RecordAgentTerminated(string(terminated.Kind), "stuck")
	if c.auditor != nil {
		if err := c.auditor.Record(ctx, models.AuditLog{
			Actor:        "supervisor",
			ActorType:    models.AuditActorSystem,
			Action:       "terminate_stuck_agent",
			ResourceType: "agent",
			ResourceID:   agentID,
			Success:      true,
		}); err != nil {
			slog.Error("record audit log for stuck termination failed", "agent_id", agentID, "error", err)
		}
	}
	if c.notifier == nil {
		return nil
	}
	if err := c.notifier.Notify(ctx, adapters.Notification{
		Kind:     "agent_terminated_stuck",
		Severity: adapters.SeverityCritical,
		Body:     "agent " + agentID + " terminated after exhausting stuck-recovery attempts",
	}); err != nil {
		slog.Error("stuck-termination notification failed", "agent_id", agentID, "error", err)
	}
	return nil
}
