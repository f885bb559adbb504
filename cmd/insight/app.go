package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/internal/config"
	"github.com/jmylchreest/insight/internal/logging"
	"github.com/jmylchreest/insight/internal/version"
	"github.com/jmylchreest/insight/pkg/api"
	"github.com/jmylchreest/insight/pkg/httputil"
	"github.com/jmylchreest/insight/pkg/kv"
	"github.com/jmylchreest/insight/pkg/monitor"
	"github.com/jmylchreest/insight/pkg/session"
	"github.com/jmylchreest/insight/pkg/submit"
)

// globalFlagKeys maps global flags onto config keys.
var globalFlagKeys = map[string]string{
	"api-url":    "api_url",
	"data-dir":   "data_dir",
	"log-level":  "log_level",
	"log-format": "log_format",
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "JSON config file"},
		&cli.StringFlag{Name: "api-url", Usage: "analysis backend base URL"},
		&cli.StringFlag{Name: "data-dir", Usage: "directory for local state"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "text or json"},
	}
}

// flagOverrides returns the config overrides for every global flag that has
// a value.
func flagOverrides(get func(name string) string) map[string]any {
	out := make(map[string]any)
	for flag, key := range globalFlagKeys {
		if v := get(flag); v != "" {
			out[key] = v
		}
	}
	return out
}

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    kv.Store
	client   *api.Client
	contexts *session.ContextStore
	history  *session.History

	stdout io.Writer
	stderr io.Writer
}

func openApp(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(config.Options{
		File:      cmd.String("config"),
		Overrides: flagOverrides(cmd.String),
	})
	if err != nil {
		return nil, err
	}
	// stdout carries command output and MCP traffic.
	logger, err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := kv.NewBoltStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open %s (is another insight process using it?): %w", cfg.DBPath(), err)
	}
	if n, err := store.Prune(); err != nil {
		logger.Warn("prune expired state", "error", err)
	} else if n > 0 {
		logger.Debug("pruned expired state", "entries", n)
	}

	hc := httputil.NewClient(
		httputil.WithHTTPTimeout(cfg.HTTPTimeout),
		httputil.WithMaxRetries(cfg.MaxRetries),
		httputil.WithLogger(logger),
	)
	client, err := api.New(cfg.APIURL,
		api.WithHTTPClient(hc),
		api.WithLogger(logger),
		api.WithUserAgent(version.UserAgent()),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sopts := []session.Option{
		session.WithRetention(cfg.Retention),
		session.WithLimit(cfg.HistoryLimit),
		session.WithLogger(logger),
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		client:   client,
		contexts: session.NewContextStore(store, sopts...),
		history:  session.NewHistory(store, sopts...),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp opens the app around a command action.
func withApp(fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a)
	}
}

func (a *app) submitter() *submit.Submitter {
	return submit.New(a.client, submit.WithHistory(a.history), submit.WithLogger(a.logger))
}

// newMonitor builds a monitor that persists outcomes against base.
func (a *app) newMonitor(base session.Context, n monitor.Notifier) *monitor.Monitor {
	return monitor.New(monitor.APIGateway(a.client),
		monitor.WithPollInterval(a.cfg.PollInterval),
		monitor.WithNotifier(n),
		monitor.WithRecorder(a.recorder(base)),
		monitor.WithLogger(a.logger),
	)
}

func (a *app) recorder(base session.Context) *session.Recorder {
	return &session.Recorder{Contexts: a.contexts, History: a.history, Base: base}
}

var errNoJob = errors.New("no analysis job: pass a job id or submit one with 'insight upload' or 'insight github analyze'")

// resolveJob picks the job a command acts on and the context it belongs
// to: an explicit id first, then the current history session, then the
// saved dashboard context.
func (a *app) resolveJob(jobID string) (session.Context, error) {
	saved, err := a.contexts.Load()
	if err != nil {
		return session.Context{}, err
	}
	if jobID == "" {
		if cur, err := a.history.CurrentSession(); err == nil && cur != nil {
			jobID = cur.JobID
		} else if saved != nil {
			jobID = saved.JobID
		}
	}
	if jobID == "" {
		return session.Context{}, errNoJob
	}
	if saved != nil && saved.JobID == jobID {
		return *saved, nil
	}

	base := session.Context{JobID: jobID}
	if s, err := a.history.ByJobID(jobID); err == nil {
		base.Source = s.Metadata.Source
		base.UploadDir = s.Metadata.UploadDir
		base.GitHubRepo = s.Metadata.GitHubRepo
		base.Branch = s.Metadata.Branch
	}
	return base, nil
}

// startJob announces a submitted job. Its history session makes it the
// current job; the dashboard context is only written once it completes.
func (a *app) startJob(job *submit.Job) {
	fmt.Fprintf(a.stdout, "Job %s started (%d files)\n", job.ID, job.FileCount)
	if job.Session != nil {
		fmt.Fprintf(a.stdout, "Session %s\n", job.Session.Slug)
	}
}
