package agentcore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentflow/orchestrator/internal/models"
)

func TestNextState_CreatedToInitializing(t *testing.T) {
	to, ok := NextState(models.AgentStateCreated, TriggerDependenciesReady)
	assert.True(t, ok)
	assert.Equal(t, models.AgentStateInitializing, to)
}

func TestNextState_IllegalTriggerRejected(t *testing.T) {
	_, ok := NextState(models.AgentStateCreated, TriggerComplete)
	assert.False(t, ok)
}

func TestNextState_RunningFansOutToWaitingStates(t *testing.T) {
	to, ok := NextState(models.AgentStateRunning, TriggerNeedsInput)
	assert.True(t, ok)
	assert.Equal(t, models.AgentStateWaitingForInput, to)

	to, ok = NextState(models.AgentStateRunning, TriggerNeedsExternal)
	assert.True(t, ok)
	assert.Equal(t, models.AgentStateWaitingForExternal, to)
}

func TestNextState_TerminalStatesHaveNoOutboundTransitions(t *testing.T) {
	for _, trigger := range []Trigger{TriggerComplete, TriggerFail, TriggerPause, TriggerResume} {
		_, ok := NextState(models.AgentStateTerminated, trigger)
		assert.False(t, ok, "terminated state should reject trigger %q", trigger)
	}
}

func TestValidateTransition_TerminalStatesOnlyAllowTheirGrantedReentry(t *testing.T) {
	err := ValidateTransition(models.AgentStateFailed, TriggerComplete)
	assert.Error(t, err)

	for _, trigger := range []Trigger{TriggerDependenciesReady, TriggerInitialized, TriggerFail, TriggerContinuation, TriggerTerminate} {
		err := ValidateTransition(models.AgentStateFailed, trigger)
		assert.Error(t, err, "failed is terminal; trigger %q must not escape it", trigger)
	}

	err = ValidateTransition(models.AgentStateCompleted, TriggerFail)
	assert.Error(t, err)

	err = ValidateTransition(models.AgentStateCompleted, TriggerContinuation)
	assert.NoError(t, err)
}

func TestValidateTransition_IllegalFromStateReportsBothNames(t *testing.T) {
	err := ValidateTransition(models.AgentStateWaitingForInput, TriggerNeedsExternal)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "needs_external")
	assert.Contains(t, err.Error(), "waiting_for_input")
}
