// Package main provides the fileflow command: the API server with its scheduler
// plus offline maintenance and cron helpers.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "fileflow",
		Usage:                 "Run file-driven workflow automations",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewReconcileCommand(),
			NewCronCommand(),
		},
	}
}

func main() {
	err := newApp().Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
