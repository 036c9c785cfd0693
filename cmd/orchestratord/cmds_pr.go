package main

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// PrCmd groups PR merge-queue subcommands.
type PrCmd struct {
	Queue  PrQueueCmd  `cmd:"" help:"Enqueue a new PR for a repository."`
	List   PrListCmd   `cmd:"" help:"List queued PRs for a repository."`
	Create PrCreateCmd `cmd:"" help:"Record that a queued item's PR was opened."`
	Merge  PrMergeCmd  `cmd:"" help:"Mark a queued PR merged, releasing the repository's lock."`
}

type PrQueueCmd struct {
	Epic       string `arg:"" help:"Epic ID."`
	Repository string `arg:"" help:"Repository identifier."`
	WorktreeID string `arg:"" help:"Worktree ID the branch lives in."`
	Branch     string `arg:"" help:"Branch name."`
	Title      string `arg:"" help:"PR title."`
	Body       string `help:"PR body."`
	Strategy   string `help:"Merge strategy (squash, rebase, merge)." default:"squash"`
}

func (c *PrQueueCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	item := &models.PrQueueItem{
		Epic:          c.Epic,
		Repository:    c.Repository,
		WorktreeID:    c.WorktreeID,
		Branch:        c.Branch,
		Title:         c.Title,
		Body:          c.Body,
		Status:        models.PrQueueStatusQueued,
		MergeStrategy: models.MergeStrategy(c.Strategy),
	}
	if err := rt.store.CreatePrQueueItem(ctx, item); err != nil {
		return err
	}
	fmt.Println(item.ID)
	return nil
}

type PrListCmd struct {
	Repository string `arg:"" help:"Repository identifier."`
}

func (c *PrListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	items, err := rt.store.ListPrQueueByRepository(ctx, c.Repository)
	if err != nil {
		return err
	}
	for _, it := range items {
		number := "-"
		if it.PRNumber != nil {
			number = fmt.Sprintf("%d", *it.PRNumber)
		}
		fmt.Printf("%s\t#%s\t%s\t%s\n", it.ID, number, it.Status, it.Title)
	}
	return nil
}

type PrCreateCmd struct {
	ID     string `arg:"" help:"PR queue item ID."`
	Number int    `arg:"" help:"PR number assigned by the forge."`
}

func (c *PrCreateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.store.SetPrNumber(ctx, c.ID, c.Number); err != nil {
		return err
	}
	if err := rt.store.SetPrQueueStatus(ctx, c.ID, models.PrQueueStatusOpen); err != nil {
		return err
	}
	return nil
}

type PrMergeCmd struct {
	ID string `arg:"" help:"PR queue item ID."`
}

func (c *PrMergeCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	item, err := rt.store.GetPrQueueItem(ctx, c.ID)
	if err != nil {
		return err
	}
	if item.Status != models.PrQueueStatusMerging && item.Status != models.PrQueueStatusOpen {
		return apperr.InvariantViolation(fmt.Sprintf("pr queue item %q is %q, not mergeable", c.ID, item.Status))
	}
	return rt.store.SetPrQueueStatus(ctx, c.ID, models.PrQueueStatusMerged)
}
