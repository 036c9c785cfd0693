// Package autonomous drives an epic through development end-to-end: the
// meta-state-machine over stories, completion-gate evaluation, stuck
// detection, and the recovery policy table. It sits above agentcore the
// same way agentcore sits above store: agentcore enforces one agent's
// legal transitions, autonomous decides when to spawn, retry, escalate,
// or block whole sessions of agents.
package autonomous

import "github.com/agentflow/orchestrator/internal/models"

// transitions is the meta-state-machine's authoritative table. Idle
// only ever starts a session; Blocked and Paused are reachable from
// any "active" state and Blocked returns only to Executing once
// unblocked.
var transitions = map[models.AutonomousState]map[models.AutonomousState]bool{
	models.AutonomousStateIdle:         {models.AutonomousStateAnalyzing: true},
	models.AutonomousStateAnalyzing:    {models.AutonomousStateDiscovering: true},
	models.AutonomousStateDiscovering:  {models.AutonomousStatePlanning: true, models.AutonomousStateDone: true},
	models.AutonomousStatePlanning:     {models.AutonomousStateExecuting: true},
	models.AutonomousStateExecuting:    {models.AutonomousStateReviewing: true},
	models.AutonomousStateReviewing:    {models.AutonomousStateExecuting: true, models.AutonomousStatePrCreation: true},
	models.AutonomousStatePrCreation:   {models.AutonomousStatePrMonitoring: true},
	models.AutonomousStatePrMonitoring: {models.AutonomousStatePrFixing: true, models.AutonomousStatePrMerging: true},
	models.AutonomousStatePrFixing:     {models.AutonomousStatePrMonitoring: true},
	models.AutonomousStatePrMerging:    {models.AutonomousStateCompleting: true},
	models.AutonomousStateCompleting:   {models.AutonomousStateDiscovering: true, models.AutonomousStateDone: true},
	models.AutonomousStateBlocked:      {models.AutonomousStateExecuting: true},
	models.AutonomousStatePaused:       {},
	models.AutonomousStateDone:         {},
}

// activeStates may transition to Blocked (unrecoverable condition) or
// Paused (user request) at any time; Idle, Blocked, Paused, and Done
// themselves are excluded since those aren't "active work in flight".
var activeStates = map[models.AutonomousState]bool{
	models.AutonomousStateAnalyzing:    true,
	models.AutonomousStateDiscovering:  true,
	models.AutonomousStatePlanning:     true,
	models.AutonomousStateExecuting:    true,
	models.AutonomousStateReviewing:    true,
	models.AutonomousStatePrCreation:   true,
	models.AutonomousStatePrMonitoring: true,
	models.AutonomousStatePrFixing:     true,
	models.AutonomousStatePrMerging:    true,
	models.AutonomousStateCompleting:   true,
}

// CanTransition reports whether `to` is a legal next meta-state from `from`.
func CanTransition(from, to models.AutonomousState) bool {
	if activeStates[from] && (to == models.AutonomousStateBlocked || to == models.AutonomousStatePaused) {
		return true
	}
	return transitions[from][to]
}

// Terminal reports whether a meta-state accepts no further transitions
// of its own (Done is final; Paused only resumes via an explicit
// "resume into the state it was paused from" operation the controller
// tracks out of band, not via this table).
func Terminal(s models.AutonomousState) bool {
	return s == models.AutonomousStateDone
}
