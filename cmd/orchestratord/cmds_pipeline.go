package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/pipeline"
)

// PipelineCmd groups declarative-pipeline subcommands.
type PipelineCmd struct {
	Create PipelineCreateCmd `cmd:"" help:"Parse, validate, and register a pipeline definition file."`
	List   PipelineListCmd   `cmd:"" help:"Show stage statuses for a run."`
	Run    PipelineRunCmd    `cmd:"" help:"Start a new run of a registered pipeline."`
	Status PipelineStatusCmd `cmd:"" help:"Show a run's overall status."`
	Cancel PipelineCancelCmd `cmd:"" help:"Cancel every non-terminal stage of a run."`
}

type PipelineCreateCmd struct {
	File string `arg:"" help:"Path to the pipeline's YAML definition file."`
}

func (c *PipelineCreateCmd) Run(cli *CLI) error {
	source, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	def, err := pipeline.Parse(string(source))
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := &models.Pipeline{
		Name:       def.Name,
		SourceText: string(source),
		Definition: def,
	}
	if err := rt.store.CreatePipeline(ctx, p); err != nil {
		return err
	}
	fmt.Println(p.ID)
	return nil
}

type PipelineRunCmd struct {
	Name   string `arg:"" help:"Registered pipeline name."`
	Branch string `help:"Branch to evaluate when clauses against."`
}

func (c *PipelineRunCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	p, err := rt.store.GetPipelineByName(ctx, c.Name)
	if err != nil {
		return err
	}

	evalCtx := pipeline.EvalContext{Branch: c.Branch, Variables: p.Definition.Variables}
	run, err := rt.coord.Engine().StartRun(ctx, p.Definition, p.ID, map[string]any{"triggered_by": "cli"}, p.Definition.Variables, evalCtx)
	if err != nil {
		return err
	}
	fmt.Println(run.ID)
	return nil
}

type PipelineListCmd struct {
	RunID string `arg:"" help:"Pipeline run ID."`
}

func (c *PipelineListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	stages, err := rt.store.ListStages(ctx, c.RunID)
	if err != nil {
		return err
	}
	for _, st := range stages {
		fmt.Printf("%s\t%s\n", st.Name, st.Status)
	}
	return nil
}

type PipelineStatusCmd struct {
	RunID string `arg:"" help:"Pipeline run ID."`
}

func (c *PipelineStatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	run, err := rt.store.GetPipelineRun(ctx, c.RunID)
	if err != nil {
		return err
	}
	fmt.Println(run.Status)
	return nil
}

type PipelineCancelCmd struct {
	RunID string `arg:"" help:"Pipeline run ID."`
}

func (c *PipelineCancelCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	stages, err := rt.store.ListStages(ctx, c.RunID)
	if err != nil {
		return err
	}
	for _, st := range stages {
		if st.Status == models.StageStatusPending || st.Status == models.StageStatusRunning || st.Status == models.StageStatusWaitingApproval {
			st.Status = models.StageStatusCancelled
			if err := rt.store.UpsertStage(ctx, &st); err != nil {
				return err
			}
		}
	}
	return rt.store.SetPipelineRunStatus(ctx, c.RunID, models.PipelineRunStatusCancelled)
}
