package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "approval_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRequiredCount_IsMajority(t *testing.T) {
	assert.Equal(t, 1, requiredCount([]string{"a"}))
	assert.Equal(t, 2, requiredCount([]string{"a", "b"}))
	assert.Equal(t, 2, requiredCount([]string{"a", "b", "c"}))
	assert.Equal(t, 3, requiredCount([]string{"a", "b", "c", "d"}))
}

func TestDecide_SingleRejectionResolvesImmediately(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := OpenApproval(ctx, s, "stage-1", models.ApprovalDefinition{Approvers: []string{"alice", "bob", "carol"}})
	require.NoError(t, err)

	resolved, err := Decide(ctx, s, req.ID, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestDecide_ReachesQuorumAfterMajorityApprove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := OpenApproval(ctx, s, "stage-1", models.ApprovalDefinition{Approvers: []string{"alice", "bob", "carol"}})
	require.NoError(t, err)

	mid, err := Decide(ctx, s, req.ID, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, mid.Status)
	assert.Nil(t, mid.ResolvedAt)

	resolved, err := Decide(ctx, s, req.ID, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestResolveTimeout_AppliesDeclaredAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := OpenApproval(ctx, s, "stage-1", models.ApprovalDefinition{
		Approvers: []string{"alice"}, TimeoutSeconds: 60, TimeoutAction: models.TimeoutActionApprove,
	})
	require.NoError(t, err)

	past := req.CreatedAt.Add(2 * time.Minute)
	resolved, err := ResolveTimeout(ctx, s, req, past)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
}

func TestResolveTimeout_NoOpBeforeDeadline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := OpenApproval(ctx, s, "stage-1", models.ApprovalDefinition{
		Approvers: []string{"alice"}, TimeoutSeconds: 3600, TimeoutAction: models.TimeoutActionReject,
	})
	require.NoError(t, err)

	soon := req.CreatedAt.Add(time.Second)
	unchanged, err := ResolveTimeout(ctx, s, req, soon)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, unchanged.Status)
}
