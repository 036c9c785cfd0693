package main

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/models"
)

// WtCmd groups worktree lifecycle subcommands.
type WtCmd struct {
	Create WtCreateCmd `cmd:"" help:"Register a new worktree."`
	List   WtListCmd   `cmd:"" help:"List stale worktrees awaiting reclaim."`
	Remove WtRemoveCmd `cmd:"" help:"Mark a worktree stale so the retention sweep reclaims it."`
}

type WtCreateCmd struct {
	Name       string `arg:"" help:"Worktree name."`
	Path       string `arg:"" help:"Filesystem path."`
	Branch     string `arg:"" help:"Branch checked out in the worktree."`
	BaseBranch string `arg:"" help:"Branch the worktree was created from."`
}

func (c *WtCreateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	wt := &models.Worktree{
		Name:       c.Name,
		Path:       c.Path,
		Branch:     c.Branch,
		BaseBranch: c.BaseBranch,
		Status:     models.WorktreeStatusActive,
	}
	if err := rt.store.CreateWorktree(ctx, wt); err != nil {
		return err
	}
	fmt.Println(wt.ID)
	return nil
}

type WtListCmd struct{}

func (c *WtListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	worktrees, err := rt.store.ListStaleWorktrees(ctx)
	if err != nil {
		return err
	}
	for _, w := range worktrees {
		fmt.Printf("%s\t%s\t%s\t%s\n", w.ID, w.Name, w.Path, w.Status)
	}
	return nil
}

type WtRemoveCmd struct {
	ID string `arg:"" help:"Worktree ID."`
}

func (c *WtRemoveCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.store.SetWorktreeStatus(ctx, c.ID, models.WorktreeStatusStale)
}
