// Package notifier is the reference Notifier implementation: a Slack
// client for the orchestrator's general structured-notification shape.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/agentflow/orchestrator/internal/adapters"
)

var severityEmoji = map[adapters.NotificationSeverity]string{
	adapters.SeverityInfo:     ":information_source:",
	adapters.SeverityWarning:  ":warning:",
	adapters.SeverityCritical: ":rotating_light:",
}

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewClient creates a new Slack API client bound to one channel.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "notifier-slack"),
	}
}

// NewClientWithAPIURL creates a Slack API client against a custom API
// URL, for testing against a mock server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "notifier-slack"),
	}
}

func (c *Client) postMessage(ctx context.Context, blocks []goslack.Block, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, _, err := c.api.PostMessageContext(ctx, c.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

// Service implements adapters.Notifier over Slack. Nil-safe: every
// method is a no-op when the Service itself is nil, matching the
// teacher's fail-open posture for an unconfigured notification channel.
type Service struct {
	client *Client
}

// NewService builds a Service, or returns nil if unconfigured so
// callers can hold a typed nil Notifier without branching everywhere.
func NewService(token, channel string) *Service {
	if token == "" || channel == "" {
		return nil
	}
	return &Service{client: NewClient(token, channel)}
}

// Notify posts one structured event as a Slack message. Failures are
// logged, not surfaced: notification delivery never blocks or fails
// the caller's own operation.
func (s *Service) Notify(ctx context.Context, n adapters.Notification) error {
	if s == nil {
		return nil
	}

	emoji := severityEmoji[n.Severity]
	if emoji == "" {
		emoji = ":question:"
	}
	headerText := fmt.Sprintf("%s *%s*\n%s", emoji, n.Kind, n.Body)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false), nil, nil),
	}
	for label, url := range n.Links {
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, label, false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	if err := s.client.postMessage(ctx, blocks, 10*time.Second); err != nil {
		s.client.logger.Error("failed to send notification", "kind", n.Kind, "severity", n.Severity, "error", err)
		return nil
	}
	return nil
}
