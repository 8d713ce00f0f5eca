package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/utestwalter/Mila/internal/task/schedule"
)

var scheduleHwd = &ScheduleRunner{}

type ScheduleRunner struct{}

func (r *ScheduleRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Schedule tools",
		Commands: []*cli.Command{
			{
				Name:      "preview",
				Usage:     `Print the next firings of a schedule, e.g. '{"type":"daily","hour":8,"minute":0,"timezone":"Europe/Berlin"}'`,
				ArgsUsage: "<schedule json>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 5, Usage: "number of firings"},
					&cli.StringFlag{Name: "tz", Value: "UTC", Usage: "zone for schedules without one"},
				},
				Action: r.preview,
			},
		},
	}
}

func (r *ScheduleRunner) preview(_ context.Context, cmd *cli.Command) error {
	raw := cmd.Args().First()
	if raw == "" {
		return errors.New("schedule json is required")
	}
	return previewSchedule(cmd.Root().Writer, raw, cmd.String("tz"), int(cmd.Int("count")), time.Now())
}

func previewSchedule(w io.Writer, raw, tz string, n int, now time.Time) error {
	var wire schedule.Wire
	if err := sonic.UnmarshalString(raw, &wire); err != nil {
		return fmt.Errorf("parse schedule json: %w", err)
	}
	spec, err := wire.Decode()
	if err != nil {
		return err
	}
	fallback, err := schedule.LoadLocation(tz, time.UTC)
	if err != nil {
		return err
	}
	trig, err := schedule.Compile(spec, fallback)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, schedule.Describe(spec))
	runs := schedule.Preview(trig, now, max(n, 1))
	if len(runs) == 0 {
		fmt.Fprintln(w, "no upcoming firings")
		return nil
	}
	for _, t := range runs {
		fmt.Fprintf(w, "  %s\n", t.Format("2006-01-02 15:04 MST (Mon)"))
	}
	return nil
}
