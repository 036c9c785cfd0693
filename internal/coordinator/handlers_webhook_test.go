package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/config"
	"github.com/agentflow/orchestrator/internal/models"
)

func newTestCoordinatorWithWebhooks(t *testing.T, webhooks config.WebhookRegistry) *Coordinator {
	t.Helper()
	c, _ := newTestCoordinator(t)
	c.webhooks = webhooks
	return c
}

func TestHandleWebhookEvent_SpawnsConfiguredAgent(t *testing.T) {
	c := newTestCoordinatorWithWebhooks(t, config.WebhookRegistry{
		"pull_request.opened": {AgentKind: models.AgentKindPrShepherd},
	})

	event := models.WebhookEvent{
		ID:         "evt-webhook-1",
		Type:       "pull_request.opened",
		DeliveryID: "dlv-1",
		Payload: map[string]any{
			"pull_request": map[string]any{
				"base": map[string]any{"ref": "main"},
			},
		},
	}

	require.NoError(t, c.handleWebhookEvent(context.Background(), event))
}

func TestHandleWebhookEvent_FilteredOutSkipsSpawn(t *testing.T) {
	c := newTestCoordinatorWithWebhooks(t, config.WebhookRegistry{
		"pull_request.opened": {
			AgentKind: models.AgentKindPrShepherd,
			Filter:    config.WebhookFilter{BaseBranch: []string{"release"}},
		},
	})

	event := models.WebhookEvent{
		ID:   "evt-webhook-2",
		Type: "pull_request.opened",
		Payload: map[string]any{
			"pull_request": map[string]any{"base": map[string]any{"ref": "main"}},
		},
	}

	require.NoError(t, c.handleWebhookEvent(context.Background(), event))
}

func TestHandleWebhookEvent_UnknownTypeIsNoop(t *testing.T) {
	c := newTestCoordinatorWithWebhooks(t, config.WebhookRegistry{})
	err := c.handleWebhookEvent(context.Background(), models.WebhookEvent{ID: "evt-3", Type: "unrouted"})
	assert.NoError(t, err)
}

func TestFilterContextFromPayload_ExtractsKnownFields(t *testing.T) {
	payload := map[string]any{
		"pull_request": map[string]any{
			"base": map[string]any{"ref": "main"},
			"head": map[string]any{"repo": map[string]any{"fork": true}},
			"user": map[string]any{"login": "alice"},
			"labels": []any{
				map[string]any{"name": "ready"},
				map[string]any{"name": "needs-review"},
			},
		},
	}
	ctx := filterContextFromPayload(payload)
	assert.Equal(t, "main", ctx.BaseBranch)
	assert.True(t, ctx.IsFork)
	assert.Equal(t, "alice", ctx.Author)
	assert.ElementsMatch(t, []string{"ready", "needs-review"}, ctx.Labels)
}
