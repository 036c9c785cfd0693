// Package llmworker is the reference LlmWorker implementation, backed
// by the official Anthropic SDK. It also implements agentcore.Summarizer
// so context-window summarization on fork uses the same client.
package llmworker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/agentflow/orchestrator/internal/adapters"
	"github.com/agentflow/orchestrator/internal/models"
)

const (
	defaultModel     = anthropic.ModelClaudeSonnet4_5
	defaultMaxTokens = 4096
)

// Worker is the Anthropic-backed LlmWorker. One Worker is shared across
// agents; each Start call opens an independent streamed turn.
type Worker struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Config holds construction parameters for Worker.
type Config struct {
	APIKey string
	Model  anthropic.Model
}

// New builds a Worker. APIKey is read from config, not the YAML file,
// per the secrets-from-environment-only rule.
func New(cfg Config) *Worker {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Worker{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		breaker: adapters.NewBreaker("llmworker.anthropic", nil),
		logger:  slog.Default().With("component", "llmworker"),
	}
}

// Start opens a streamed turn against the Anthropic Messages API. The
// returned TurnStream is closed once a finish event has been emitted
// or ctx is cancelled.
func (w *Worker) Start(ctx context.Context, sessionID, prompt string, tools []adapters.Tool, maxTurns int) (adapters.TurnStream, error) {
	params := anthropic.MessageNewParams{
		Model:     w.model,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: toAnthropicTools(tools),
	}

	stream := w.client.Messages.NewStreaming(ctx, params)
	out := make(chan adapters.TurnEvent)

	go func() {
		defer close(out)
		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				w.logger.Warn("accumulate stream event failed", "session_id", sessionID, "error", err)
				continue
			}
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := delta.Delta.Text; text != "" {
					select {
					case out <- adapters.TurnEvent{Kind: adapters.TurnEventText, Text: text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			w.logger.Error("anthropic stream error", "session_id", sessionID, "error", err)
		}

		for _, block := range message.Content {
			if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
				select {
				case out <- adapters.TurnEvent{Kind: adapters.TurnEventToolCall, ToolName: tu.Name}:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case out <- adapters.TurnEvent{
			Kind:         adapters.TurnEventFinish,
			FinishReason: string(message.StopReason),
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func toAnthropicTools(tools []adapters.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
			},
		})
	}
	return out
}

// Summarize implements agentcore.Summarizer: it asks the model for a
// compact structured digest of a message transcript (decisions, files
// touched, tests added, open questions) rather than copying it raw,
// the mechanism behind context-window summarization on fork.
func (w *Worker) Summarize(ctx context.Context, messages []models.AgentMessage) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
	}

	resp, err := adapters.Guard(ctx, w.breaker, "llmworker.anthropic", func(ctx context.Context) (*anthropic.Message, error) {
		return w.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     w.model,
			MaxTokens: 512,
			System: []anthropic.TextBlockParam{
				{Text: "Summarise this agent transcript for a successor agent: decisions made, files touched, tests added, open questions. Be terse."},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(transcript.String())),
			},
		})
	})
	if err != nil {
		return "", err
	}

	var summary strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			summary.WriteString(tb.Text)
		}
	}
	return summary.String(), nil
}
