package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/scheduler"
)

// ScheduleCmd groups cron-schedule subcommands.
type ScheduleCmd struct {
	Add    ScheduleAddCmd    `cmd:"" help:"Create a new cron schedule."`
	List   ScheduleListCmd   `cmd:"" help:"List schedules due at or before a given time."`
	Pause  SchedulePauseCmd  `cmd:"" help:"Disable a schedule."`
	RunNow ScheduleRunNowCmd `cmd:"" name:"run-now" help:"Fire a schedule immediately, bypassing its cron expression."`
}

type ScheduleAddCmd struct {
	Name       string `arg:"" help:"Schedule name."`
	Expression string `arg:"" help:"Standard 5-field cron expression."`
	Kind       string `arg:"" help:"Agent kind to spawn when the schedule fires."`
	Task       string `arg:"" help:"Task description for the spawned agent."`
	MissedRun  string `name:"missed-run" help:"Missed-run policy (skip, fire_once_catchup)." default:"fire_once_catchup"`
}

func (c *ScheduleAddCmd) Run(cli *CLI) error {
	nextRun, err := scheduler.NextRunAfter(c.Expression, time.Now())
	if err != nil {
		return err
	}
	ctx := context.Background()
	rt, rtErr := openRuntime(ctx, cli)
	if rtErr != nil {
		return rtErr
	}
	defer rt.Close()

	sch := &models.Schedule{
		Name:       c.Name,
		Expression: c.Expression,
		AgentKind:  models.AgentKind(c.Kind),
		Task:       c.Task,
		Enabled:    true,
		MissedRun:  models.MissedRunPolicy(c.MissedRun),
		NextRun:    nextRun,
	}
	if err := rt.store.CreateSchedule(ctx, sch); err != nil {
		return err
	}
	fmt.Println(sch.ID)
	return nil
}

type ScheduleListCmd struct {
	AsOf string `help:"RFC3339 timestamp to evaluate due schedules against; defaults to now." default:""`
}

func (c *ScheduleListCmd) Run(cli *CLI) error {
	asOf := time.Now()
	if c.AsOf != "" {
		parsed, err := time.Parse(time.RFC3339, c.AsOf)
		if err != nil {
			return err
		}
		asOf = parsed
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	due, err := rt.store.ListDueSchedules(ctx, asOf)
	if err != nil {
		return err
	}
	for _, sch := range due {
		fmt.Printf("%s\t%s\t%s\tnext=%s\n", sch.ID, sch.Name, sch.Expression, sch.NextRun.Format(time.RFC3339))
	}
	return nil
}

type SchedulePauseCmd struct {
	ID string `arg:"" help:"Schedule ID."`
}

func (c *SchedulePauseCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.store.SetScheduleEnabled(ctx, c.ID, false)
}

type ScheduleRunNowCmd struct {
	ID string `arg:"" help:"Schedule ID."`
}

func (c *ScheduleRunNowCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := openRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	sch, err := rt.store.GetSchedule(ctx, c.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	deliveryID := fmt.Sprintf("sched:%s:manual:%s", sch.ID, now.Format(time.RFC3339Nano))
	if _, err := rt.coord.Queue().Enqueue(ctx, scheduler.EventType, deliveryID, map[string]any{
		"schedule_id": sch.ID,
		"agent_kind":  string(sch.AgentKind),
		"task":        sch.Task,
		"fired_for":   now.Format(time.RFC3339),
	}, scheduler.DefaultMaxRetries); err != nil {
		return err
	}
	fmt.Println(deliveryID)
	return nil
}
