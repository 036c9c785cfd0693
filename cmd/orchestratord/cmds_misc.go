package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentflow/orchestrator/internal/models"
)

// BmadCmd drives the BMAD document-processing agent kind.
type BmadCmd struct {
	Process BmadProcessCmd `cmd:"" help:"Spawn a bmad-orchestrator agent over a document."`
	Status  BmadStatusCmd  `cmd:"" help:"Show a bmad-orchestrator agent's current state."`
}

type BmadProcessCmd struct {
	DocumentPath string `arg:"" help:"Path to the document to process."`
	Epic         string `help:"Epic ID this processing run belongs to."`
}

func (c *BmadProcessCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	agent := &models.Agent{
		Kind: models.AgentKindBmadOrchestrator,
		Task: fmt.Sprintf("process document %s", c.DocumentPath),
		Context: models.AgentContext{
			Epic:   c.Epic,
			Custom: map[string]any{"document_path": c.DocumentPath},
		},
	}
	spawned, err := rt.coord.Core().Spawn(ctx, agent, nil)
	if err != nil {
		return err
	}
	fmt.Println(spawned.ID)
	return nil
}

type BmadStatusCmd struct {
	AgentID string `arg:"" help:"bmad-orchestrator agent ID."`
}

func (c *BmadStatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.store.GetAgent(ctx, c.AgentID)
	if err != nil {
		return err
	}
	fmt.Println(a.State)
	return nil
}

// WebhookCmd groups webhook ingestion control commands. The daemon's
// own listener is started by `daemon start`; these subcommands support
// local testing against that listener's contract without a daemon.
type WebhookCmd struct {
	Simulate WebhookSimulateCmd `cmd:"" help:"Enqueue a locally-crafted webhook payload as if it had been delivered."`
}

type WebhookSimulateCmd struct {
	Source     string `arg:"" help:"Source path segment (e.g. github)."`
	PayloadFile string `arg:"" help:"Path to a JSON payload file."`
	DeliveryID string `help:"Delivery ID to attach; generated if omitted." default:""`
}

func (c *WebhookSimulateCmd) Run(cli *CLI) error {
	raw, err := os.ReadFile(c.PayloadFile)
	if err != nil {
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	deliveryID := c.DeliveryID
	if deliveryID == "" {
		deliveryID = fmt.Sprintf("simulate:%s:%x", c.Source, sha256.Sum256(raw))
	}
	kind, _ := payload["type"].(string)
	if kind == "" {
		kind, _ = payload["_kind"].(string)
	}
	if kind == "" {
		return fmt.Errorf("payload must set \"type\" or \"_kind\" to a recognised event kind")
	}
	payload["_source"] = c.Source

	event, err := rt.coord.Queue().Enqueue(ctx, kind, deliveryID, payload, 8)
	if err != nil {
		return err
	}
	fmt.Println(event.ID)
	return nil
}

// AlertCmd groups alert-rule inspection and acknowledgement.
// `alert rules` prints the stuck-sweep flag and the autonomous
// section's review-iteration bound; firings are recorded as audit log entries (no separate alert store
// table), so acknowledging one is recording an audit entry against it.
type AlertCmd struct {
	Rules       AlertRulesCmd       `cmd:"" help:"List configured alert thresholds."`
	List        AlertListCmd        `cmd:"" help:"List recent alert-worthy audit entries."`
	Acknowledge AlertAcknowledgeCmd `cmd:"" help:"Acknowledge a firing by its audit log ID."`
}

type AlertRulesCmd struct{}

func (c *AlertRulesCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Printf("stuck_sweep_enabled=true max_review_iterations=%d\n", rt.cfg.Autonomous.MaxReviewIterations)
	return nil
}

type AlertListCmd struct {
	ResourceType string `arg:"" help:"Resource type to search (e.g. agent, pipeline_run)."`
	ResourceID   string `arg:"" help:"Resource ID."`
	Limit        int    `help:"Maximum entries to return." default:"20"`
}

func (c *AlertListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.store.ListAuditLogsByResource(ctx, c.ResourceType, c.ResourceID, c.Limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\tsuccess=%v\n", e.ID, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Action, e.Success)
	}
	return nil
}

type AlertAcknowledgeCmd struct {
	AuditLogID string `arg:"" help:"Audit log ID of the firing being acknowledged."`
	Actor      string `help:"Acknowledging operator's identity." default:"operator"`
}

func (c *AlertAcknowledgeCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.coord.Auditor().Record(ctx, models.AuditLog{
		Actor:        c.Actor,
		ActorType:    models.AuditActorUser,
		Action:       "alert_acknowledged",
		ResourceType: "audit_log",
		ResourceID:   c.AuditLogID,
		Success:      true,
	})
}

// CostCmd reports accumulated token cost.
type CostCmd struct {
	Report CostReportCmd `cmd:"" help:"Report token usage totals, optionally scoped to one epic."`
}

type CostReportCmd struct {
	Epic string `help:"Scope the report to one epic; omit for system-wide totals." default:""`
}

func (c *CostReportCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Epic != "" {
		r, err := rt.store.CostReportForEpic(ctx, c.Epic)
		if err != nil {
			return err
		}
		fmt.Printf("epic=%s agents=%d messages=%d input_tokens=%d output_tokens=%d\n", c.Epic, r.AgentCount, r.MessageCount, r.InputTokens, r.OutputTokens)
		return nil
	}

	r, err := rt.store.CostReportTotal(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("total agents=%d messages=%d input_tokens=%d output_tokens=%d\n", r.AgentCount, r.MessageCount, r.InputTokens, r.OutputTokens)
	return nil
}

// AuditCmd searches the append-only audit log.
type AuditCmd struct {
	Search AuditSearchCmd `cmd:"" help:"Search audit log entries for a resource."`
}

type AuditSearchCmd struct {
	ResourceType string `arg:"" help:"Resource type (agent, pipeline_run, schedule, ...)."`
	ResourceID   string `arg:"" help:"Resource ID."`
	Limit        int    `help:"Maximum entries to return." default:"50"`
}

func (c *AuditSearchCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.store.ListAuditLogsByResource(ctx, c.ResourceType, c.ResourceID, c.Limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\tsuccess=%v\n", e.ID, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Actor, e.Action, e.Success)
	}
	return nil
}
