package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentflow/orchestrator/internal/config"
	"github.com/agentflow/orchestrator/internal/eventqueue"
	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/scheduler"
)

// handlers builds the event-type-to-handler map the event queue pool
// dispatches through: one dedicated handler for schedule.fire, plus
// one generic webhook handler shared by every event kind named in
// Config.Webhooks. An unregistered type is left for Queue.Dispatch's
// own unknown-type handling.
func (c *Coordinator) handlers() eventqueue.EventTypeHandlers {
	h := eventqueue.EventTypeHandlers{
		scheduler.EventType: c.handleScheduleFire,
	}
	for kind := range c.webhooks {
		h[kind] = c.handleWebhookEvent
	}
	return h
}

// handleWebhookEvent dispatches one recognised inbound webhook event
// against Config.Webhooks: if the event's filter matches,
// spawn the configured agent kind; otherwise the delivery is
// acknowledged as a no-op (a filtered-out event is not a processing
// failure).
func (c *Coordinator) handleWebhookEvent(ctx context.Context, event models.WebhookEvent) error {
	rule, ok := c.webhooks[event.Type]
	if !ok {
		slog.Warn("webhook event has no routing rule", "type", event.Type, "event_id", event.ID)
		return nil
	}
	if !rule.Filter.Match(filterContextFromPayload(event.Payload)) {
		slog.Info("webhook event filtered out", "type", event.Type, "event_id", event.ID)
		return nil
	}

	task := fmt.Sprintf("handle %s webhook delivery %s", event.Type, event.DeliveryID)
	agent := &models.Agent{
		Kind: rule.AgentKind,
		Task: task,
		Context: models.AgentContext{
			Custom: map[string]any{"webhook_event_id": event.ID, "webhook_type": event.Type, "payload": event.Payload},
		},
	}
	spawned, err := c.core.Spawn(ctx, agent, nil)
	if err != nil {
		c.metrics.RecordEventDispatched(event.Type, "error")
		return fmt.Errorf("spawn agent for webhook %s: %w", event.Type, err)
	}
	c.metrics.RecordAgentSpawned(string(rule.AgentKind))
	c.metrics.RecordEventDispatched(event.Type, "ok")
	slog.Info("webhook event spawned agent", "type", event.Type, "agent_id", spawned.ID, "agent_kind", rule.AgentKind)

	if c.auditor != nil {
		if err := c.auditor.Record(ctx, models.AuditLog{
			Actor:        "webhook",
			ActorType:    models.AuditActorWebhook,
			Action:       "webhook_spawn",
			ResourceType: "agent",
			ResourceID:   spawned.ID,
			Details:      map[string]any{"webhook_type": event.Type, "delivery_id": event.DeliveryID},
			Success:      true,
		}); err != nil {
			slog.Error("record audit log for webhook spawn failed", "event_id", event.ID, "error", err)
		}
	}
	return nil
}

// filterContextFromPayload pulls the closed set of filter-relevant
// fields out of a webhook payload shaped like a GitHub
// delivery. Unknown/missing fields are left at their zero value, which
// is always vacuously accepted by an unset filter key.
func filterContextFromPayload(payload map[string]any) config.FilterContext {
	var ctx config.FilterContext

	if pr, ok := payload["pull_request"].(map[string]any); ok {
		if base, ok := pr["base"].(map[string]any); ok {
			ctx.BaseBranch, _ = base["ref"].(string)
		}
		if head, ok := pr["head"].(map[string]any); ok {
			if repo, ok := head["repo"].(map[string]any); ok {
				ctx.IsFork, _ = repo["fork"].(bool)
			}
		}
		if user, ok := pr["user"].(map[string]any); ok {
			ctx.Author, _ = user["login"].(string)
		}
		for _, raw := range asSlice(pr["labels"]) {
			if label, ok := raw.(map[string]any); ok {
				if name, ok := label["name"].(string); ok {
					ctx.Labels = append(ctx.Labels, name)
				}
			}
		}
	}
	if base, ok := payload["base_branch"].(string); ok {
		ctx.BaseBranch = base
	}
	if checkRun, ok := payload["check_run"].(map[string]any); ok {
		ctx.Conclusion, _ = checkRun["conclusion"].(string)
	}
	if checkSuite, ok := payload["check_suite"].(map[string]any); ok {
		ctx.Conclusion, _ = checkSuite["conclusion"].(string)
	}
	if sender, ok := payload["sender"].(map[string]any); ok {
		if login, ok := sender["login"].(string); ok && ctx.Author == "" {
			ctx.Author = login
		}
	}
	for _, raw := range asSlice(payload["commits"]) {
		commit, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, field := range []string{"added", "modified", "removed"} {
			for _, p := range asSlice(commit[field]) {
				if path, ok := p.(string); ok {
					ctx.Paths = append(ctx.Paths, path)
				}
			}
		}
	}
	return ctx
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// handleScheduleFire spawns the agent a fired Schedule asked for. The
// payload shape is whatever scheduler.fireOnce enqueued.
func (c *Coordinator) handleScheduleFire(ctx context.Context, event models.WebhookEvent) error {
	scheduleID, _ := event.Payload["schedule_id"].(string)
	kind, _ := event.Payload["agent_kind"].(string)
	task, _ := event.Payload["task"].(string)
	firedFor, _ := event.Payload["fired_for"].(string)

	if kind == "" || task == "" {
		return fmt.Errorf("schedule.fire event %s missing agent_kind or task", event.ID)
	}

	agent, err := c.spawnScheduled(ctx, scheduleID, models.AgentKind(kind), task, firedFor)
	if err != nil {
		c.metrics.RecordEventDispatched(scheduler.EventType, "error")
		return err
	}
	c.metrics.RecordEventDispatched(scheduler.EventType, "ok")
	slog.Info("schedule fired agent", "schedule_id", scheduleID, "agent_id", agent.ID, "agent_kind", kind)

	if c.auditor != nil {
		if err := c.auditor.Record(ctx, models.AuditLog{
			Actor:        "scheduler",
			ActorType:    models.AuditActorSystem,
			Action:       "schedule_fire_spawn",
			ResourceType: "agent",
			ResourceID:   agent.ID,
			Details:      map[string]any{"schedule_id": scheduleID, "fired_for": firedFor},
			Success:      true,
		}); err != nil {
			slog.Error("record audit log for schedule fire failed", "schedule_id", scheduleID, "error", err)
		}
	}
	return nil
}
