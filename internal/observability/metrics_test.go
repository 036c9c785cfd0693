package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordAndScrape(t *testing.T) {
	m := NewMetrics("orchestrator_test")
	m.RecordAgentSpawned("explorer")
	m.RecordAgentTerminated("explorer", "stuck")
	m.SetAgentStateCounts(map[string]int{"running": 2})
	m.RecordEventDispatched("schedule.fire", "ok")
	m.SetEventQueueDepth(5)
	m.RecordScheduleFired()
	m.RecordPipelineStage("succeeded")
	m.RecordLLMTokens(100, 50)
	m.SetCostTotals(1000, 500)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "orchestrator_test_agent_spawned_total")
	assert.Contains(t, body, "orchestrator_test_cost_input_tokens_total 1000")
}

func TestMetrics_NilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordAgentSpawned("explorer")
	m.SetEventQueueDepth(1)
	assert.Equal(t, 503, httptestStatus(t, m))
}

func httptestStatus(t *testing.T, m *Metrics) int {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	return rec.Code
}
