package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/pkg/session"
)

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Inspect and manage the local analysis history",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recorded sessions, newest first",
				Flags: []cli.Flag{jsonFlag()},
				Action: withApp(func(_ context.Context, cmd *cli.Command, a *app) error {
					sessions, err := a.history.All()
					if err != nil {
						return err
					}
					if cmd.Bool("json") {
						return writeJSON(a.stdout, sessions)
					}
					if len(sessions) == 0 {
						fmt.Fprintln(a.stdout, "No sessions recorded.")
						return nil
					}
					current, err := a.history.Current()
					if err != nil {
						return err
					}
					writeSessionTable(a.stdout, sessions, current)
					return nil
				}),
			},
			{
				Name:      "show",
				Usage:     "Show one session (default: the current one)",
				ArgsUsage: "[slug]",
				Action: withApp(func(_ context.Context, cmd *cli.Command, a *app) error {
					var (
						s   *session.Session
						err error
					)
					if slug := cmd.Args().First(); slug != "" {
						s, err = a.history.BySlug(slug)
					} else {
						s, err = a.history.CurrentSession()
						if err == nil && s == nil {
							err = session.ErrNotFound
						}
					}
					if err != nil {
						return err
					}
					return writeJSON(a.stdout, s)
				}),
			},
			{
				Name:  "context",
				Usage: "Show the saved dashboard context and its age",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "with-results", Usage: "include cached results"},
				},
				Action: withApp(func(_ context.Context, cmd *cli.Command, a *app) error {
					c, err := a.contexts.Load()
					if err != nil {
						return err
					}
					if c == nil {
						fmt.Fprintln(a.stdout, "No saved context.")
						return nil
					}
					if age, ok, err := a.contexts.Age(); err == nil && ok {
						fmt.Fprintln(a.stderr, dimStyle.Render(fmt.Sprintf("saved %s ago, expires after %s", age.Round(time.Second), a.cfg.Retention)))
					}
					out := *c
					if !cmd.Bool("with-results") {
						out.Result = nil
					}
					return writeJSON(a.stdout, out)
				}),
			},
			{
				Name:  "cleanup",
				Usage: "Remove finished sessions older than --max-age",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "max-age", Usage: "age beyond which sessions are removed", Value: session.DefaultCleanupAge},
				},
				Action: withApp(func(_ context.Context, cmd *cli.Command, a *app) error {
					maxAge := cmd.Duration("max-age")
					if maxAge <= 0 {
						return errors.New("--max-age must be positive")
					}
					n, err := a.history.Cleanup(maxAge)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Removed %d sessions\n", n)
					return nil
				}),
			},
			{
				Name:  "clear",
				Usage: "Forget all sessions",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "context", Usage: "also clear the saved dashboard context"},
				},
				Action: withApp(func(_ context.Context, cmd *cli.Command, a *app) error {
					if err := a.history.Clear(); err != nil {
						return err
					}
					if cmd.Bool("context") {
						if err := a.contexts.Clear(); err != nil {
							return err
						}
					}
					fmt.Fprintln(a.stdout, "History cleared")
					return nil
				}),
			},
		},
	}
}
