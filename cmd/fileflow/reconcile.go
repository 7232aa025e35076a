package main

import (
	"context"
	"fmt"

	"github.com/dukex/fileflow/pkg/cmd"
	"github.com/dukex/fileflow/pkg/log"
	"github.com/dukex/fileflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

// NewReconcileCommand runs one liveness pass against the store and exits. No
// execution is live in this process, so only the timeout decides.
func NewReconcileCommand() *cli.Command {
	flags := []cli.Flag{
		databaseURLFlag(),
		&cli.DurationFlag{
			Name:    "liveness-timeout",
			Usage:   "Inactivity after which a running execution is failed",
			Value:   scheduler.DefaultLivenessTimeout,
			Sources: cli.EnvVars("LIVENESS_TIMEOUT"),
		},
	}

	return &cli.Command{
		Name:  "reconcile",
		Usage: "Fail running executions that stopped making progress",
		Flags: append(flags, logFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("reconcile")

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := p.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			reconciler := scheduler.NewReconciler(
				p.ExecutionRepository(),
				command.Duration("liveness-timeout"),
				func(string) bool { return false },
				logger,
			)

			report, err := reconciler.ReconcileAll(ctx)
			if err != nil {
				return fmt.Errorf("reconcile failed: %w", err)
			}

			out := command.Root().Writer

			for _, id := range report.Failed {
				_, _ = fmt.Fprintf(out, "failed\t%s\n", id)
			}

			for _, execution := range report.Pending {
				_, _ = fmt.Fprintf(out, "pending\t%s\n", execution.ID)
			}

			_, _ = fmt.Fprintf(out, "%d execution(s) failed, %d pending\n", len(report.Failed), len(report.Pending))

			return nil
		},
	}
}
