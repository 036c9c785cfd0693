package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/internal/eventqueue"
	"github.com/agentflow/orchestrator/internal/store"
)

func newTestHandler(t *testing.T, secret []byte) (*Handler, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := store.Open(context.Background(), store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	q := eventqueue.New(s)
	return New(q, secret), s
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(r http.Handler, source, deliveryID, signature string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+source, bytes.NewReader(body))
	req.Header.Set(deliveryHeader, deliveryID)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleAcceptsValidSignedDelivery(t *testing.T) {
	secret := []byte("topsecret")
	h, _ := newTestHandler(t, secret)
	r := gin.New()
	h.Register(r)

	body, _ := json.Marshal(map[string]any{"pull_request": map[string]any{"base": "main"}, "action": "opened"})
	rec := postWebhook(r, "github", "dlv-1", sign(secret, body), body)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	secret := []byte("topsecret")
	h, _ := newTestHandler(t, secret)
	r := gin.New()
	h.Register(r)

	body, _ := json.Marshal(map[string]any{"pull_request": map[string]any{}})
	rec := postWebhook(r, "github", "dlv-2", "sha256=deadbeef", body)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRejectsMissingDeliveryID(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	r := gin.New()
	h.Register(r)

	body, _ := json.Marshal(map[string]any{"pull_request": map[string]any{}})
	rec := postWebhook(r, "github", "", "", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDuplicateDeliveryStillAccepted(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	r := gin.New()
	h.Register(r)

	body, _ := json.Marshal(map[string]any{"pull_request": map[string]any{}, "action": "opened"})
	first := postWebhook(r, "github", "dlv-dup", "", body)
	second := postWebhook(r, "github", "dlv-dup", "", body)

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusAccepted, second.Code)
}

func TestEventKindDerivation(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"pr opened", map[string]any{"pull_request": map[string]any{}, "action": "opened"}, "pull_request.opened"},
		{"review submitted", map[string]any{"pull_request": map[string]any{}, "review": map[string]any{}, "action": "submitted"}, "pull_request_review.submitted"},
		{"check run", map[string]any{"check_run": map[string]any{}}, "check_run.completed"},
		{"push", map[string]any{"commits": []any{}}, "push"},
		{"issue opened", map[string]any{"issue": map[string]any{}, "action": "opened"}, "issues.opened"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, eventKind("github", tc.payload))
		})
	}
}
