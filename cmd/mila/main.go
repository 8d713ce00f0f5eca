package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/urfave/cli/v3"
)

const defaultConfig = "./config.yaml"

func main() {
	cmd := &cli.Command{
		Name:  "mila",
		Usage: "Telegram agent that runs scheduled search and reminder tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfig,
				Usage:   "path to the JSON or YAML config",
				Sources: cli.EnvVars("MILA_CONFIG"),
			},
		},
		Action: runHwd.run,
		Commands: []*cli.Command{
			runHwd.cmd(),
			tasksHwd.cmd(),
			scheduleHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
