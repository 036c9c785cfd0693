package main

import (
	"context"
	"fmt"

	"github.com/agentflow/orchestrator/internal/autonomous"
	"github.com/agentflow/orchestrator/internal/models"
)

// EpicCmd groups the autonomous epic-controller subcommands.
type EpicCmd struct {
	AutoProcess EpicAutoProcessCmd `cmd:"" name:"auto-process" help:"Start an autonomous session driving an epic end-to-end."`
	AutoStatus  EpicAutoStatusCmd  `cmd:"" name:"auto-status" help:"Show an epic's autonomous session state."`
	AutoPause   EpicAutoPauseCmd   `cmd:"" name:"auto-pause" help:"Pause an epic's autonomous session."`
	AutoResume  EpicAutoResumeCmd  `cmd:"" name:"auto-resume" help:"Resume a paused autonomous session."`
	AutoStop    EpicAutoStopCmd    `cmd:"" name:"auto-stop" help:"Block an epic's autonomous session, ending automatic progress."`
}

type EpicAutoProcessCmd struct {
	EpicID string `arg:"" help:"Epic ID."`
}

func (c *EpicAutoProcessCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	stories, err := rt.store.ListStoriesByEpic(ctx, c.EpicID)
	if err != nil {
		return err
	}
	workQueue := make([]models.WorkQueueItem, 0, len(stories))
	for i, st := range stories {
		workQueue = append(workQueue, models.WorkQueueItem{StoryID: st.ID, Sequence: i})
	}

	ctrl := autonomous.New(rt.store)
	sess, err := ctrl.StartSession(ctx, c.EpicID, workQueue, map[string]any{
		"max_review_iterations": rt.cfg.Autonomous.MaxReviewIterations,
		"standard_model":        rt.cfg.Autonomous.StandardModel,
		"premium_model":         rt.cfg.Autonomous.PremiumModel,
		"fast_model":            rt.cfg.Autonomous.FastModel,
	})
	if err != nil {
		return err
	}
	fmt.Println(sess.ID)
	return nil
}

type EpicAutoStatusCmd struct {
	EpicID string `arg:"" help:"Epic ID."`
}

func (c *EpicAutoStatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.store.GetAutonomousSessionByEpic(ctx, c.EpicID)
	if err != nil {
		return err
	}
	fmt.Printf("state=%s stories_completed=%d review_iterations=%d prs_merged=%d\n",
		sess.State, sess.Metrics.StoriesCompleted, sess.Metrics.ReviewIterations, sess.Metrics.PRsMerged)
	return nil
}

type EpicAutoPauseCmd struct {
	EpicID string `arg:"" help:"Epic ID."`
	Reason string `help:"Reason recorded on the session." default:"operator requested pause"`
}

func (c *EpicAutoPauseCmd) Run(cli *CLI) error {
	return withAutonomousSession(cli, c.EpicID, func(ctx context.Context, ctrl *autonomous.Controller, sess models.AutonomousSession) error {
		_, err := ctrl.Pause(ctx, sess, c.Reason)
		return err
	})
}

type EpicAutoResumeCmd struct {
	EpicID string `arg:"" help:"Epic ID."`
}

func (c *EpicAutoResumeCmd) Run(cli *CLI) error {
	return withAutonomousSession(cli, c.EpicID, func(ctx context.Context, ctrl *autonomous.Controller, sess models.AutonomousSession) error {
		_, err := ctrl.Resume(ctx, sess)
		return err
	})
}

type EpicAutoStopCmd struct {
	EpicID string `arg:"" help:"Epic ID."`
	Reason string `help:"Reason recorded on the session." default:"operator requested stop"`
}

func (c *EpicAutoStopCmd) Run(cli *CLI) error {
	return withAutonomousSession(cli, c.EpicID, func(ctx context.Context, ctrl *autonomous.Controller, sess models.AutonomousSession) error {
		_, err := ctrl.Block(ctx, sess, c.Reason)
		return err
	})
}

func withAutonomousSession(cli *CLI, epicID string, fn func(ctx context.Context, ctrl *autonomous.Controller, sess models.AutonomousSession) error) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.store.GetAutonomousSessionByEpic(ctx, epicID)
	if err != nil {
		return err
	}
	ctrl := autonomous.New(rt.store)
	return fn(ctx, ctrl, sess)
}
