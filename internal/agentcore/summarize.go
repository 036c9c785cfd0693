package agentcore

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentflow/orchestrator/internal/models"
)

// DefaultSummarizationTokenCap is the token budget above which a forked
// session's carried-forward context is summarized instead of copied
// verbatim.
const DefaultSummarizationTokenCap = 2000

// Summarizer condenses a conversation history into a shorter synopsis.
// Implementations call out to an LlmWorker adapter; agentcore only
// depends on this narrow interface so it never imports adapter
// packages directly.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.AgentMessage) (string, error)
}

// estimateTokens is a cheap, deterministic stand-in for a real
// tokenizer: roughly four characters per token, the same rule of thumb
// used for the cap check before a real count is available.
func estimateTokens(messages []models.AgentMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

// ForkWithSummary forks parentAgentID's active session under a new
// external session handle. If the parent's conversation exceeds
// tokenCap, the forked session is seeded with a single system message
// summarizing the parent history instead of the full transcript,
// keeping the child's context window bounded. On any summarizer
// failure this fails open: the child carries the raw history forward
// rather than blocking the caller on a degraded summarizer.
func (c *Core) ForkWithSummary(ctx context.Context, parentAgentID, childAgentID, externalSessionID string, tokenCap int) (models.Session, error) {
	if tokenCap <= 0 {
		tokenCap = DefaultSummarizationTokenCap
	}

	parent, err := c.store.GetAgent(ctx, parentAgentID)
	if err != nil {
		return models.Session{}, err
	}
	if parent.SessionID == nil {
		return models.Session{}, fmt.Errorf("agent %q has no active session to fork", parentAgentID)
	}

	messages, err := c.store.Messages(ctx, parentAgentID)
	if err != nil {
		return models.Session{}, err
	}

	child, err := c.store.ForkSession(ctx, *parent.SessionID, childAgentID, externalSessionID)
	if err != nil {
		return models.Session{}, err
	}

	if estimateTokens(messages) <= tokenCap {
		return child, nil
	}

	note := c.buildSummaryNote(ctx, messages)
	if err := c.store.AppendMessage(ctx, &models.AgentMessage{
		AgentID: childAgentID,
		Role:    models.MessageRoleSystem,
		Content: note,
	}); err != nil {
		return models.Session{}, err
	}
	return child, nil
}

func (c *Core) buildSummaryNote(ctx context.Context, messages []models.AgentMessage) string {
	fallback := func() string {
		var b strings.Builder
		b.WriteString("[NOTE: context summarization unavailable, carrying forward raw history]\n")
		for _, m := range messages {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		return b.String()
	}

	if c.summarizer == nil {
		return fallback()
	}
	summary, err := c.summarizer.Summarize(ctx, messages)
	if err != nil {
		return fallback()
	}
	return fmt.Sprintf("[NOTE: the preceding conversation was summarized to stay within the context window]\n%s", summary)
}
