// Package agentcore implements the Agent lifecycle state machine:
// legal transitions, optimistic-concurrency commits, dependency
// readiness, and session forking.
package agentcore

import (
	"fmt"

	"github.com/agentflow/orchestrator/internal/models"
)

// Trigger names the closed set of events that move an Agent between
// states. Triggers are recorded verbatim on the StateTransition row.
type Trigger string

const (
	TriggerDependenciesReady Trigger = "dependencies_ready"
	TriggerInitialized       Trigger = "initialized"
	TriggerNeedsInput        Trigger = "needs_input"
	TriggerInputReceived     Trigger = "input_received"
	TriggerNeedsExternal     Trigger = "needs_external"
	TriggerExternalResolved  Trigger = "external_resolved"
	TriggerPause             Trigger = "pause"
	TriggerResume            Trigger = "resume"
	TriggerComplete          Trigger = "complete"
	TriggerFail              Trigger = "fail"
	TriggerTerminate         Trigger = "terminate"
	TriggerContinuation      Trigger = "continuation"
)

// transitions is the closed legal-transition table: from -> trigger ->
// to. Any (from, trigger) pair absent from this table is illegal.
var transitions = map[models.AgentState]map[Trigger]models.AgentState{
	models.AgentStateCreated: {
		TriggerDependenciesReady: models.AgentStateInitializing,
		TriggerTerminate:         models.AgentStateTerminated,
	},
	models.AgentStateInitializing: {
		TriggerInitialized: models.AgentStateRunning,
		TriggerFail:        models.AgentStateFailed,
		TriggerTerminate:   models.AgentStateTerminated,
	},
	models.AgentStateRunning: {
		TriggerNeedsInput:    models.AgentStateWaitingForInput,
		TriggerNeedsExternal: models.AgentStateWaitingForExternal,
		TriggerPause:         models.AgentStatePaused,
		TriggerComplete:      models.AgentStateCompleted,
		TriggerFail:          models.AgentStateFailed,
		TriggerTerminate:     models.AgentStateTerminated,
	},
	models.AgentStateWaitingForInput: {
		TriggerInputReceived: models.AgentStateRunning,
		TriggerFail:          models.AgentStateFailed,
		TriggerTerminate:     models.AgentStateTerminated,
	},
	models.AgentStateWaitingForExternal: {
		TriggerExternalResolved: models.AgentStateRunning,
		TriggerFail:             models.AgentStateFailed,
		TriggerTerminate:        models.AgentStateTerminated,
	},
	models.AgentStatePaused: {
		TriggerResume:    models.AgentStateRunning,
		TriggerTerminate: models.AgentStateTerminated,
	},
	models.AgentStateCompleted: {
		TriggerContinuation: models.AgentStateRunning,
	},
}

// NextState resolves the destination state for (from, trigger), or
// returns ok=false if the transition is illegal.
func NextState(from models.AgentState, trigger Trigger) (models.AgentState, bool) {
	byTrigger, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := byTrigger[trigger]
	return to, ok
}

// ValidateTransition returns an error describing why (from, trigger)
// is illegal, or nil if it is legal. Legality is determined entirely
// by the transitions table: Failed and Terminated are terminal for
// every trigger; Completed is terminal except for the explicit
// continuation re-entry the table grants it. Retrying failed work
// means spawning a new Agent, never resurrecting this one.
func ValidateTransition(from models.AgentState, trigger Trigger) error {
	if _, ok := NextState(from, trigger); !ok {
		return fmt.Errorf("illegal transition: trigger %q is not valid from state %q", trigger, from)
	}
	return nil
}
