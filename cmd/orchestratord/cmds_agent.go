package main

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/agentcore"
	"github.com/agentflow/orchestrator/internal/models"
)

// AgentCmd groups agent lifecycle subcommands.
type AgentCmd struct {
	Spawn     AgentSpawnCmd     `cmd:"" help:"Spawn a new agent."`
	List      AgentListCmd      `cmd:"" help:"List agents, optionally filtered by state."`
	Show      AgentShowCmd      `cmd:"" help:"Show one agent's full detail."`
	Pause     AgentPauseCmd     `cmd:"" help:"Pause a running agent."`
	Resume    AgentResumeCmd    `cmd:"" help:"Resume a paused agent."`
	Terminate AgentTerminateCmd `cmd:"" help:"Terminate one agent; its descendants are left as they are."`
}

type AgentSpawnCmd struct {
	Kind  string `arg:"" help:"Agent kind (e.g. story-developer, explorer)."`
	Task  string `arg:"" help:"Task description for the agent."`
	Epic  string `help:"Epic ID to attach to the agent's context."`
	Story string `help:"Story ID to attach to the agent's context."`
}

func (c *AgentSpawnCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	agent := &models.Agent{
		Kind: models.AgentKind(c.Kind),
		Task: c.Task,
		Context: models.AgentContext{
			Epic:  c.Epic,
			Story: c.Story,
		},
	}
	spawned, err := rt.coord.Core().Spawn(ctx, agent, nil)
	if err != nil {
		return err
	}
	fmt.Println(spawned.ID)
	return nil
}

type AgentListCmd struct {
	State string `help:"Filter by agent state; omit to list every agent."`
}

func (c *AgentListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	var agents []models.Agent
	if c.State != "" {
		agents, err = rt.store.ListAgentsByState(ctx, models.AgentState(c.State))
	} else {
		agents, err = rt.store.ListAllAgents(ctx)
	}
	if err != nil {
		return err
	}
	for _, a := range agents {
		fmt.Printf("%s\t%s\t%s\t%s\n", a.ID, a.Kind, a.State, a.Task)
	}
	return nil
}

type AgentShowCmd struct {
	ID string `arg:"" help:"Agent ID."`
}

func (c *AgentShowCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.store.GetAgent(ctx, c.ID)
	if err != nil {
		return err
	}
	messages, err := rt.store.Messages(ctx, c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("id=%s kind=%s state=%s task=%q\n", a.ID, a.Kind, a.State, a.Task)
	if a.ErrorMessage != nil {
		fmt.Printf("error=%q\n", *a.ErrorMessage)
	}
	fmt.Printf("messages=%d\n", len(messages))
	return nil
}

type AgentPauseCmd struct {
	ID string `arg:"" help:"Agent ID."`
}

func (c *AgentPauseCmd) Run(cli *CLI) error {
	return advanceAgent(cli, c.ID, agentcore.TriggerPause)
}

type AgentResumeCmd struct {
	ID string `arg:"" help:"Agent ID."`
}

func (c *AgentResumeCmd) Run(cli *CLI) error {
	return advanceAgent(cli, c.ID, agentcore.TriggerResume)
}

func advanceAgent(cli *CLI, agentID string, trigger agentcore.Trigger) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.coord.Core().Advance(ctx, agentID, trigger)
	if err != nil {
		return err
	}
	fmt.Println(a.State)
	return nil
}

type AgentTerminateCmd struct {
	ID     string `arg:"" help:"Agent ID."`
	Reason string `help:"Reason recorded on the agent and audit log." default:"operator requested termination"`
}

func (c *AgentTerminateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.coord.Core().Terminate(ctx, c.ID, c.Reason)
	if err != nil {
		return err
	}
	fmt.Println(a.State)
	return nil
}
