package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/models"
)

func TestRefreshGauges_PopulatesFromStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgent(ctx, &models.Agent{Kind: models.AgentKindExplorer, Task: "t"}))

	m := NewMetrics("orchestrator_refresh_test")
	err := RefreshGauges(ctx, s, m)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
