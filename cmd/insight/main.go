// Command insight submits code to the analysis backend and follows the
// results from the terminal, a local view server or an MCP client.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appl := &cli.Command{
		Name:    version.ApplicationName,
		Usage:   "submit code for multi-agent analysis and follow the results",
		Version: version.Short(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			uploadCommand(),
			githubCommand(),
			monitorCommand(),
			statusCommand(),
			resultsCommand(),
			issuesCommand(),
			chartsCommand(),
			chatCommand(),
			sessionCommand(),
			serveCommand(),
			watchCommand(),
			mcpCommand(),
			healthCommand(),
			versionCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
