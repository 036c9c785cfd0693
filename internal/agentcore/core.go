package agentcore

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// Core is the Agent Core: it owns every legal state transition, the
// dependency-readiness gate, and session forking. Callers
// (scheduler, pipeline, autonomous controller) never write agent state
// through the store directly.
type Core struct {
	store      *store.Store
	summarizer Summarizer
}

// New builds a Core over the given store. summarizer may be nil, in
// which case ForkWithSummary carries the parent session's content
// forward unsummarized.
func New(s *store.Store, summarizer Summarizer) *Core {
	return &Core{store: s, summarizer: summarizer}
}

// Spawn creates a new agent in the Created state with the given
// required/optional dependency edges already recorded.
func (c *Core) Spawn(ctx context.Context, a *models.Agent, deps []models.AgentDependency) (models.Agent, error) {
	a.State = models.AgentStateCreated
	if err := c.store.CreateAgent(ctx, a); err != nil {
		return models.Agent{}, err
	}
	for _, d := range deps {
		if err := c.store.AddDependency(ctx, a.ID, d.DependsOn, d.Kind); err != nil {
			return models.Agent{}, err
		}
	}
	return c.store.GetAgent(ctx, a.ID)
}

// ReadinessCheck reports whether every required dependency of agentID
// has reached Completed, alongside the snapshot used to decide.
func (c *Core) ReadinessCheck(ctx context.Context, agentID string) (bool, map[string]models.AgentState, error) {
	snapshot, err := c.store.DependencyStates(ctx, agentID)
	if err != nil {
		return false, nil, err
	}
	for _, state := range snapshot {
		if state != models.AgentStateCompleted {
			return false, snapshot, nil
		}
	}
	return true, snapshot, nil
}

// Advance attempts to move agentID from its current state through
// trigger, enforcing the legal-transition table and (for the
// dependencies_ready trigger) the dependency-readiness gate.
func (c *Core) Advance(ctx context.Context, agentID string, trigger Trigger) (models.Agent, error) {
	agent, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return models.Agent{}, err
	}

	to, ok := NextState(agent.State, trigger)
	if !ok {
		return models.Agent{}, apperr.InvariantViolation(
			fmt.Sprintf("illegal transition: trigger %q is not valid from state %q", trigger, agent.State))
	}

	var snapshot map[string]models.AgentState
	if trigger == TriggerDependenciesReady {
		ready, snap, err := c.ReadinessCheck(ctx, agentID)
		snapshot = snap
		if err != nil {
			return models.Agent{}, err
		}
		if !ready {
			return models.Agent{}, apperr.DependencyNotReady(agentID)
		}
	}

	if err := c.store.UpdateAgentState(ctx, agentID, agent.State, to, string(trigger), snapshot, nil); err != nil {
		return models.Agent{}, err
	}
	return c.store.GetAgent(ctx, agentID)
}

// Fail records a failed transition, attaching the error message and
// logging the StateTransition with success=false.
func (c *Core) Fail(ctx context.Context, agentID string, cause error) (models.Agent, error) {
	agent, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return models.Agent{}, err
	}
	to, ok := NextState(agent.State, TriggerFail)
	if !ok {
		return models.Agent{}, apperr.InvariantViolation(
			fmt.Sprintf("agent %q in state %q cannot fail directly", agentID, agent.State))
	}
	msg := cause.Error()
	if err := c.store.UpdateAgentState(ctx, agentID, agent.State, to, string(TriggerFail), nil, &msg); err != nil {
		return models.Agent{}, err
	}
	return c.store.GetAgent(ctx, agentID)
}

// Terminate forcibly moves any non-terminal agent to Terminated,
// bypassing the usual trigger table (used by operator intervention and
// the supervisor's stuck-sweep escalation).
func (c *Core) Terminate(ctx context.Context, agentID string, reason string) (models.Agent, error) {
	agent, err := c.store.GetAgent(ctx, agentID)
	if err != nil {
		return models.Agent{}, err
	}
	if agent.State.Terminal() {
		return agent, nil
	}
	if err := c.store.UpdateAgentState(ctx, agentID, agent.State, models.AgentStateTerminated, string(TriggerTerminate), nil, &reason); err != nil {
		return models.Agent{}, err
	}
	return c.store.GetAgent(ctx, agentID)
}

// PropagateCompletion is called after an agent reaches Completed. It
// finds every direct dependent (child agents whose required dependency
// set includes agentID) and, for each one still Created, attempts the
// dependencies_ready transition.
func (c *Core) PropagateCompletion(ctx context.Context, completedAgentID string) error {
	children, err := c.store.ListAgentsByState(ctx, models.AgentStateCreated)
	if err != nil {
		return err
	}
	for _, child := range children {
		ready, snapshot, err := c.ReadinessCheck(ctx, child.ID)
		if err != nil {
			return err
		}
		if _, dependent := snapshot[completedAgentID]; !dependent || !ready {
			continue
		}
		if _, err := c.Advance(ctx, child.ID, TriggerDependenciesReady); err != nil && !apperr.Is(err, apperr.KindDependencyNotReady) {
			return fmt.Errorf("propagate completion to %q: %w", child.ID, err)
		}
	}
	return nil
}
