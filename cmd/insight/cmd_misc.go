package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/internal/version"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check that the analysis backend is reachable",
		Action: withApp(func(ctx context.Context, _ *cli.Command, a *app) error {
			if err := a.client.Health(ctx); err != nil {
				return fmt.Errorf("%s: %w", a.client.BaseURL(), err)
			}
			fmt.Fprintf(a.stdout, "%s is healthy\n", a.client.BaseURL())
			return nil
		}),
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Bool("json") {
				fmt.Fprintln(cmd.Root().Writer, version.JSON())
				return nil
			}
			fmt.Fprintln(cmd.Root().Writer, version.String())
			return nil
		},
	}
}
