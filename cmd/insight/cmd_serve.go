package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/pkg/monitor"
	"github.com/jmylchreest/insight/pkg/server"
	"github.com/jmylchreest/insight/pkg/session"
	"github.com/jmylchreest/insight/pkg/submit"
	"github.com/jmylchreest/insight/pkg/watcher"
)

// logNotifier sends notices to the structured log, for commands without a
// terminal audience.
func logNotifier(l *slog.Logger) monitor.Notifier {
	return monitor.NotifierFunc(func(level monitor.Level, title, message string) {
		lvl := slog.LevelInfo
		if level == monitor.LevelError {
			lvl = slog.LevelWarn
		}
		l.Log(context.Background(), lvl, title, "notice", message)
	})
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the dashboard view model as JSON over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (default: serve_addr from config)"},
			&cli.BoolFlag{Name: "no-monitor", Usage: "do not follow the current job"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			addr := cmd.String("addr")
			if addr == "" {
				addr = a.cfg.ServeAddr
			}
			opts := []server.Option{
				server.WithContexts(a.contexts),
				server.WithHistory(a.history),
				server.WithLogger(a.logger),
			}

			if !cmd.Bool("no-monitor") {
				base, err := a.resolveJob("")
				if err == nil && (base.Result == nil || base.Result.Partial) {
					mon := a.newMonitor(base, logNotifier(a.logger))
					if err := mon.Start(ctx, base.JobID); err != nil {
						return err
					}
					defer mon.Stop()
					opts = append(opts, server.WithSnapshots(mon))
				}
			}

			srv := server.NewServer(addr, opts...)
			defer srv.Close()
			fmt.Fprintf(a.stderr, "Serving on http://%s\n", addr)
			return srv.Start(ctx)
		}),
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Re-submit a directory for analysis whenever its sources change",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "delay", Usage: "quiet period before re-submitting (default: watch_delay from config)"},
			&cli.BoolFlag{Name: "initial", Usage: "submit once on start"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			root := cmd.Args().First()
			if root == "" {
				root = "."
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			delay := cmd.Duration("delay")
			if delay <= 0 {
				delay = a.cfg.WatchDelay
			}

			r := &resubmitter{
				root: root,
				app:  a,
				sub:  a.submitter(),
				mon:  a.newMonitor(session.Context{}, terminalNotifier(a.stderr)),
			}
			defer r.mon.Stop()

			w, err := watcher.New(watcher.Config{
				Root:          root,
				DebounceDelay: delay,
				FileFilter:    submit.IsSupported,
				Logger:        a.logger,
			}, watcher.FileChangeHandlerFunc(func(files map[string]fsnotify.Op) {
				a.logger.Info("sources changed", "files", len(files))
				r.submit(ctx)
			}))
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			stats := w.Stats()
			fmt.Fprintf(a.stderr, "Watching %s (%d directories, %s debounce)\n", root, stats.DirsWatched, delay)
			if cmd.Bool("initial") {
				r.submit(ctx)
			}

			updates, unsubscribe := r.mon.Subscribe()
			defer unsubscribe()
			var last string
			for {
				select {
				case s := <-updates:
					if s.JobID == "" {
						continue
					}
					if line := progressLine(s); line != last {
						fmt.Fprintln(a.stderr, dimStyle.Render(s.JobID+" "+line))
						last = line
					}
				case <-ctx.Done():
					return nil
				}
			}
		}),
	}
}

// resubmitter uploads the watched tree and switches the monitor to the new
// job. Submissions are serialized.
type resubmitter struct {
	root string
	app  *app
	sub  *submit.Submitter
	mon  *monitor.Monitor
	mu   sync.Mutex
}

func (r *resubmitter) submit(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	col, err := submit.Collect(ctx, r.root)
	if err != nil {
		r.app.logger.Error("collect sources", "error", err)
		return
	}
	job, err := r.sub.Upload(ctx, col.Files)
	if err != nil {
		r.app.logger.Error("resubmit", "error", err)
		return
	}
	r.app.startJob(job)
	if err := r.mon.Start(ctx, job.ID); err != nil {
		r.app.logger.Error("monitor job", "job_id", job.ID, "error", err)
	}
}
