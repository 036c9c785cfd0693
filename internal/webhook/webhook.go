// Package webhook is the inbound HTTP glue for the wire contract of
// HMAC-verified POST /webhook/{source} deliveries turned into durable
// eventqueue.Queue entries. It is deliberately thin — all decision
// logic (filtering, agent-kind selection) lives in internal/coordinator,
// which consumes the enqueued event.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/eventqueue"
)

// DefaultMaxRetries bounds how many times the queue retries a handler
// failure before an event is moved to dead-letter.
const DefaultMaxRetries = 8

// recognisedEventKinds is the closed set of event kinds this daemon acts on.
var recognisedEventKinds = map[string]bool{
	"pull_request.opened":           true,
	"pull_request_review.submitted": true,
	"check_run.completed":           true,
	"check_suite.completed":         true,
	"push":                          true,
	"issues.opened":                 true,
	"schedule.fire":                 true,
}

// Handler verifies and enqueues inbound webhook deliveries.
type Handler struct {
	queue  *eventqueue.Queue
	secret []byte
}

// New builds a Handler that verifies deliveries against secret (read
// from the environment by cmd/orchestratord, never from the config
// file).
func New(q *eventqueue.Queue, secret []byte) *Handler {
	return &Handler{queue: q, secret: secret}
}

// deliveryHeader and signatureHeader name the headers carrying the
// unique delivery id and the HMAC signature over the raw body.
const (
	deliveryHeader  = "X-Delivery-Id"
	signatureHeader = "X-Hub-Signature-256"
	sourceParam     = "source"
)

// Register mounts POST /webhook/:source on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhook/:source", h.handle)
}

// handle verifies the HMAC signature with a constant-time compare,
// parses the event kind out of the payload, enqueues it, and responds
// 202 once enqueued regardless of subsequent handling (duplicates
// included — a DuplicateIgnored delivery still gets a 202, since the
// daemon already has it durably recorded).
func (h *Handler) handle(c *gin.Context) {
	source := c.Param(sourceParam)
	deliveryID := c.GetHeader(deliveryHeader)
	if deliveryID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + deliveryHeader})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if len(h.secret) > 0 {
		if !verifySignature(h.secret, body, c.GetHeader(signatureHeader)) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	kind := eventKind(source, payload)
	if !recognisedEventKinds[kind] {
		slog.Warn("webhook: unrecognised event kind", "source", source, "kind", kind)
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "kind": kind})
		return
	}
	payload["_source"] = source

	_, err = h.queue.Enqueue(c.Request.Context(), kind, deliveryID, payload, DefaultMaxRetries)
	if err != nil && !apperr.Is(err, apperr.KindConflict) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "delivery_id": deliveryID})
}

// eventKind derives the webhook_events.type value from the source
// path segment and payload shape, following the de-facto convention
// the recognised-kind list itself uses: "{resource}.{action}".
func eventKind(source string, payload map[string]any) string {
	action, _ := payload["action"].(string)
	switch source {
	case "github", "forge":
		if _, hasReview := payload["review"]; hasReview && action == "submitted" {
			return "pull_request_review.submitted"
		}
		if _, hasPR := payload["pull_request"]; hasPR {
			if action == "" {
				action = "opened"
			}
			return "pull_request." + action
		}
		if _, hasCheckRun := payload["check_run"]; hasCheckRun {
			return "check_run.completed"
		}
		if _, hasCheckSuite := payload["check_suite"]; hasCheckSuite {
			return "check_suite.completed"
		}
		if _, hasIssue := payload["issue"]; hasIssue {
			if action == "" {
				action = "opened"
			}
			return "issues." + action
		}
		if _, hasCommits := payload["commits"]; hasCommits {
			return "push"
		}
	}
	if kind, ok := payload["type"].(string); ok {
		return kind
	}
	return source
}

// verifySignature compares the hex-encoded HMAC-SHA256 of body against
// the "sha256=<hex>"-prefixed header value using a constant-time
// comparison, so signature checks can't leak timing information.
func verifySignature(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(got, want)
}
