package autonomous

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/agentcore"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func TestDecideRecovery_FirstMatchWins(t *testing.T) {
	d := DecideRecovery(models.StuckRepeatedError, false, true, false)
	assert.Equal(t, models.RecoverySpawnConflictResolver, d.Action, "conflict detection overrides the bare kind")

	d = DecideRecovery(models.StuckContextNearCap, true, false, false)
	assert.Equal(t, models.RecoveryEscalateHuman, d.Action, "ping-pong overrides even context-near-cap")
	assert.True(t, d.Blocked)

	d = DecideRecovery(models.StuckContextNearCap, false, false, false)
	assert.Equal(t, models.RecoveryForkSession, d.Action)

	d = DecideRecovery(models.StuckCIStale, false, false, false)
	assert.Equal(t, models.RecoveryRequeryCI, d.Action)

	d = DecideRecovery(models.StuckRepeatedError, false, false, true)
	assert.Equal(t, models.RecoveryBackoff, d.Action, "rate limit overrides repeated-error")
}

func newTestRecoveryPolicy(t *testing.T) (*RecoveryPolicy, *store.Store, *agentcore.Core) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "recovery_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	core := agentcore.New(s, nil)
	return NewRecoveryPolicy(s, core), s, core
}

func TestRecoveryPolicy_EscalatesAfterMaxAttempts(t *testing.T) {
	p, s, _ := newTestRecoveryPolicy(t)
	ctx := context.Background()

	agent := &models.Agent{Kind: models.AgentKindExplorer, Task: "t"}
	require.NoError(t, s.CreateAgent(ctx, agent))

	cfg := agentcore.StuckSweepConfig{MaxRecoveryAttempts: 1}

	det := models.StuckDetection{ID: "d1", AgentID: agent.ID, Kind: models.StuckNoProgress}
	require.NoError(t, s.RecordStuckDetection(ctx, &det))

	decision, err := p.HandleDetection(ctx, cfg, det, false, false, false)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryEscalateModel, decision.Action)
	assert.False(t, decision.Blocked)

	det2 := models.StuckDetection{ID: "d2", AgentID: agent.ID, Kind: models.StuckNoProgress}
	require.NoError(t, s.RecordStuckDetection(ctx, &det2))

	decision2, err := p.HandleDetection(ctx, cfg, det2, false, false, false)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryBlock, decision2.Action, "second detection exceeds MaxRecoveryAttempts=1")
	assert.True(t, decision2.Blocked)
}
