// Command orchestratord is the daemon entrypoint: it loads
// configuration, wires the coordinator together, serves the inbound
// webhook/health/metrics HTTP surface, and exposes every operator
// action (agent, pr, wt, pipeline, epic, schedule, bmad, alert, cost,
// audit) as a kong subcommand against the same embedded store.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI is the full orchestratord command surface.
type CLI struct {
	ConfigFile string `short:"c" name:"config" help:"Path to the YAML configuration file." default:"./orchestrator.yaml"`
	EnvFile    string `name:"env-file" help:"Path to a .env file loaded before reading secrets." default:".env"`
	LogLevel   string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`

	Daemon   DaemonCmd   `cmd:"" help:"Run or inspect the orchestrator daemon."`
	Agent    AgentCmd    `cmd:"" help:"Spawn and manage agents."`
	Pr       PrCmd       `cmd:"" help:"Manage the per-repository PR merge queue."`
	Wt       WtCmd       `cmd:"" help:"Manage isolated git worktrees."`
	Bmad     BmadCmd     `cmd:"" help:"Drive BMAD document processing."`
	Webhook  WebhookCmd  `cmd:"" help:"Simulate webhook ingestion (the listener runs under daemon start)."`
	Schedule ScheduleCmd `cmd:"" help:"Manage cron-style schedules."`
	Pipeline PipelineCmd `cmd:"" help:"Manage declarative pipelines and runs."`
	Epic     EpicCmd     `cmd:"" help:"Drive the autonomous epic controller."`
	Alert    AlertCmd    `cmd:"" help:"Inspect alert rules and acknowledge firings."`
	Cost     CostCmd     `cmd:"" help:"Report accumulated token cost."`
	Audit    AuditCmd    `cmd:"" help:"Search the audit log."`
}

func main() {
	cli := &CLI{}
	parser := kong.Parse(cli,
		kong.Name("orchestratord"),
		kong.Description("Persistent multi-agent orchestrator daemon."),
		kong.UsageOnError(),
	)

	err := parser.Run(cli)
	code := exitCodeFor(err)
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestratord:", err)
	}
	os.Exit(code)
}
