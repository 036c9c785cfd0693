package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/adapters"
)

func TestService_NilServiceIsNoOp(t *testing.T) {
	var s *Service
	err := s.Notify(context.Background(), adapters.Notification{Kind: "test", Severity: adapters.SeverityInfo, Body: "hi"})
	assert.NoError(t, err)
}

func TestNewService_EmptyConfigReturnsNil(t *testing.T) {
	assert.Nil(t, NewService("", "channel"))
	assert.Nil(t, NewService("token", ""))
}

func TestService_NotifyPostsMessage(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1234.5678"}`))
	}))
	defer srv.Close()

	client := NewClientWithAPIURL("token", "C1", srv.URL+"/")
	svc := &Service{client: client}

	err := svc.Notify(context.Background(), adapters.Notification{
		Kind: "stuck_agent", Severity: adapters.SeverityCritical, Body: "agent stuck",
		Links: map[string]string{"Dashboard": "https://example.test/d/1"},
	})
	require.NoError(t, err)
	assert.True(t, called)
}
