package observability

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "observability_test.db")
	s, err := store.Open(context.Background(), store.DefaultConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAuditor_RecordMasksDetailsBeforePersisting(t *testing.T) {
	s := newTestStore(t)
	a := NewAuditor(s)
	ctx := context.Background()

	err := a.Record(ctx, models.AuditLog{
		Actor:        "agent-1",
		ActorType:    models.AuditActorAgent,
		Action:       "post_review_comment",
		ResourceType: "pull_request",
		ResourceID:   "pr-42",
		Details:      map[string]any{"snippet": `token: "abcdefghijklmnopqrstuvwxyz123456"`},
		Success:      true,
	})
	require.NoError(t, err)

	history, err := a.History(ctx, "pull_request", "pr-42", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Details["snippet"], "[MASKED_TOKEN]")
}
