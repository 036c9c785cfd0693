package agentcore

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/internal/models"
)

// StuckSweepConfig tunes how long an agent may sit in a non-terminal
// state before the supervisor treats it as stuck.
type StuckSweepConfig struct {
	// RunningTimeout bounds how long an agent may stay in Running
	// without a new message before it is flagged stuck.
	RunningTimeout time.Duration
	// WaitingTimeout bounds WaitingForInput/WaitingForExternal.
	WaitingTimeout time.Duration
	// MaxRecoveryAttempts caps how many times the supervisor will try
	// to nudge a stuck agent before escalating to Terminate.
	MaxRecoveryAttempts int
}

// DefaultStuckSweepConfig returns conservative stuck-detection defaults.
func DefaultStuckSweepConfig() StuckSweepConfig {
	return StuckSweepConfig{
		RunningTimeout:      30 * time.Minute,
		WaitingTimeout:      2 * time.Hour,
		MaxRecoveryAttempts: 3,
	}
}

func (cfg StuckSweepConfig) timeoutFor(state models.AgentState) (time.Duration, bool) {
	switch state {
	case models.AgentStateRunning:
		return cfg.RunningTimeout, true
	case models.AgentStateWaitingForInput, models.AgentStateWaitingForExternal:
		return cfg.WaitingTimeout, true
	default:
		return 0, false
	}
}

// Sweep scans every non-terminal agent and records a stuck detection
// for any that has exceeded its state's timeout since UpdatedAt. It
// returns the recorded detections (with their assigned IDs) so a
// caller can route each one through a recovery policy that needs to
// reference the detection row, e.g. autonomous.RecoveryPolicy.
func (c *Core) Sweep(ctx context.Context, cfg StuckSweepConfig, now time.Time) ([]models.StuckDetection, error) {
	candidates, err := c.store.ListAgentsByState(ctx,
		models.AgentStateRunning, models.AgentStateWaitingForInput, models.AgentStateWaitingForExternal)
	if err != nil {
		return nil, err
	}

	var flagged []models.StuckDetection
	for _, a := range candidates {
		timeout, ok := cfg.timeoutFor(a.State)
		if !ok {
			continue
		}
		if now.Sub(a.UpdatedAt) < timeout {
			continue
		}
		kind := stuckKindFor(a.State)
		detection := &models.StuckDetection{
			AgentID: a.ID,
			Kind:    kind,
			Detail: map[string]any{
				"state":    string(a.State),
				"idle_for": now.Sub(a.UpdatedAt).Round(time.Second).String(),
			},
		}
		if err := c.store.RecordStuckDetection(ctx, detection); err != nil {
			return nil, fmt.Errorf("record stuck detection for %q: %w", a.ID, err)
		}
		flagged = append(flagged, *detection)
	}
	return flagged, nil
}

func stuckKindFor(state models.AgentState) models.StuckDetectionKind {
	if state == models.AgentStateRunning {
		return models.StuckNoProgress
	}
	return models.StuckReviewSLA
}

// ShouldEscalate reports whether agentID has been flagged stuck for
// the given heuristic more than cfg.MaxRecoveryAttempts times, meaning
// recovery attempts have been exhausted and the supervisor should
// Terminate it.
func (c *Core) ShouldEscalate(ctx context.Context, cfg StuckSweepConfig, agentID string, kind models.StuckDetectionKind) (bool, error) {
	count, err := c.store.CountRecentStuckDetections(ctx, agentID, kind)
	if err != nil {
		return false, err
	}
	return count > cfg.MaxRecoveryAttempts, nil
}
