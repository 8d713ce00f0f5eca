package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/utestwalter/Mila/internal/app"
	"github.com/utestwalter/Mila/internal/config"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/pkg/logx"
)

var tasksHwd = &TasksRunner{}

// TasksRunner works on the configured store directly. A running bot keeps
// its in-memory schedule until it restarts.
type TasksRunner struct{}

func (r *TasksRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and delete stored tasks (offline)",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List task ids",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "only ids of this owner prefix (e.g. alice)"},
				},
				Action: r.list,
			},
			{
				Name:      "show",
				Usage:     "Show one task",
				ArgsUsage: "<id>",
				Action:    r.show,
			},
			{
				Name:      "delete",
				Usage:     "Delete one task",
				ArgsUsage: "<id>",
				Action:    r.delete,
			},
		},
	}
}

func openStore(cmd *cli.Command) (*config.Config, storage.Store, error) {
	cfg, err := config.NewConfigManager(cmd.String("config")).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("WARN"))
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return cfg, st, nil
}

func (r *TasksRunner) list(ctx context.Context, cmd *cli.Command) error {
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	listing, err := st.List(ctx, storage.Filter{Owner: cmd.String("owner")})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	w := cmd.Root().Writer
	for _, id := range listing.IDs {
		fmt.Fprintln(w, id)
	}
	for _, c := range listing.Corrupt {
		fmt.Fprintf(w, "%s (corrupt: %s)\n", c.ID, c.Reason)
	}
	for _, c := range listing.Unreadable {
		fmt.Fprintf(w, "%s (unreadable: %s)\n", c.ID, c.Reason)
	}
	if len(listing.IDs)+len(listing.Corrupt)+len(listing.Unreadable) == 0 {
		fmt.Fprintln(w, "no tasks")
	}
	return nil
}

func taskID(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", errors.New("task id is required")
	}
	return id, nil
}

func (r *TasksRunner) show(ctx context.Context, cmd *cli.Command) error {
	raw, err := taskID(cmd)
	if err != nil {
		return err
	}
	cfg, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	id := registrar.NormalizeID(raw)
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	def, found, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("task %s not found", raw)
	}
	loc, err := schedule.LoadLocation(cfg.Scheduler.Timezone, time.UTC)
	if err != nil {
		loc = time.UTC
	}
	printTask(cmd.Root().Writer, def, loc, time.Now())
	return nil
}

func printTask(w io.Writer, def storage.TaskDefinition, loc *time.Location, now time.Time) {
	query := def.SearchQuery
	if def.IsReminder() {
		query = "(reminder)"
	}
	fmt.Fprintf(w, "id:        %s\n", def.ID)
	fmt.Fprintf(w, "owner:     %s\n", def.Owner)
	fmt.Fprintf(w, "recipient: %s\n", def.Recipient)
	fmt.Fprintf(w, "query:     %s\n", query)
	fmt.Fprintf(w, "schedule:  %s\n", schedule.Describe(def.Schedule))
	if trig, err := schedule.Compile(def.Schedule, loc); err == nil {
		if next := trig.Next(now); !next.IsZero() {
			fmt.Fprintf(w, "next run:  %s\n", next.Format(time.RFC3339))
		} else {
			fmt.Fprintln(w, "next run:  none")
		}
	} else {
		fmt.Fprintf(w, "next run:  invalid schedule (%v)\n", err)
	}
	if !def.CreatedAt.IsZero() {
		fmt.Fprintf(w, "created:   %s\n", def.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "\n%s\n", def.Instructions)
}

func (r *TasksRunner) delete(ctx context.Context, cmd *cli.Command) error {
	raw, err := taskID(cmd)
	if err != nil {
		return err
	}
	cfg, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	existed, err := app.NewOfflineRegistrar(cfg, st, logx.Nop()).Purge(ctx, "cli", raw)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("task %s not found", raw)
	}
	fmt.Fprintf(cmd.Root().Writer, "deleted %s\n", raw)
	return nil
}
