package autonomous

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentflow/orchestrator/internal/models"
)

func TestCanTransition_HappyPathChain(t *testing.T) {
	chain := []models.AutonomousState{
		models.AutonomousStateIdle,
		models.AutonomousStateAnalyzing,
		models.AutonomousStateDiscovering,
		models.AutonomousStatePlanning,
		models.AutonomousStateExecuting,
		models.AutonomousStateReviewing,
		models.AutonomousStatePrCreation,
		models.AutonomousStatePrMonitoring,
		models.AutonomousStatePrMerging,
		models.AutonomousStateCompleting,
	}
	for i := 0; i < len(chain)-1; i++ {
		assert.True(t, CanTransition(chain[i], chain[i+1]), "%s -> %s", chain[i], chain[i+1])
	}
}

func TestCanTransition_ReviewingCanLoopBackToExecuting(t *testing.T) {
	assert.True(t, CanTransition(models.AutonomousStateReviewing, models.AutonomousStateExecuting))
}

func TestCanTransition_AnyActiveStateCanBlockOrPause(t *testing.T) {
	for s := range activeStates {
		assert.True(t, CanTransition(s, models.AutonomousStateBlocked), "%s -> Blocked", s)
		assert.True(t, CanTransition(s, models.AutonomousStatePaused), "%s -> Paused", s)
	}
}

func TestCanTransition_BlockedOnlyReturnsToExecuting(t *testing.T) {
	assert.True(t, CanTransition(models.AutonomousStateBlocked, models.AutonomousStateExecuting))
	assert.False(t, CanTransition(models.AutonomousStateBlocked, models.AutonomousStateReviewing))
}

func TestCanTransition_DoneAndPausedAreTerminalInTheTable(t *testing.T) {
	assert.False(t, CanTransition(models.AutonomousStateDone, models.AutonomousStateAnalyzing))
	assert.False(t, CanTransition(models.AutonomousStatePaused, models.AutonomousStateExecuting))
}

func TestTerminal_OnlyDoneIsTerminal(t *testing.T) {
	assert.True(t, Terminal(models.AutonomousStateDone))
	assert.False(t, Terminal(models.AutonomousStateBlocked))
	assert.False(t, Terminal(models.AutonomousStatePaused))
}
