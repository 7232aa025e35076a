package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/fileflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

var errMissingExpression = errors.New("a cron expression argument is required")

func NewCronCommand() *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Inspect cron expressions without a server",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Check that an expression parses",
				ArgsUsage: "<expression>",
				Action: func(_ context.Context, command *cli.Command) error {
					expr := command.Args().First()
					if expr == "" {
						return errMissingExpression
					}

					if _, err := services.ValidateCron(expr, 1, time.Now()); err != nil {
						return err
					}

					_, _ = fmt.Fprintf(command.Root().Writer, "%q is valid\n", expr)

					return nil
				},
			},
			{
				Name:      "next",
				Usage:     "List the next activations of an expression (UTC)",
				ArgsUsage: "<expression>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "Number of activations",
						Value:   services.DefaultNextRuns,
					},
				},
				Action: func(_ context.Context, command *cli.Command) error {
					expr := command.Args().First()
					if expr == "" {
						return errMissingExpression
					}

					runs, err := services.ValidateCron(expr, command.Int("count"), time.Now())
					if err != nil {
						return err
					}

					for _, run := range runs {
						_, _ = fmt.Fprintln(command.Root().Writer, run.Format(time.RFC3339))
					}

					return nil
				},
			},
		},
	}
}
