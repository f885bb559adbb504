package monitor

import (
	"context"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/api"
)

// Stream is an open live progress channel.
type Stream interface {
	Next(ctx context.Context) (api.ProgressMessage, error)
	Close() error
}

// Gateway is the subset of the backend the monitor needs.
type Gateway interface {
	Status(ctx context.Context, jobID string) (*analysis.JobState, error)
	PartialResults(ctx context.Context, jobID string) (*api.PartialResults, error)
	Results(ctx context.Context, jobID string) (*api.Results, error)
	OpenProgress(ctx context.Context, jobID string) (Stream, error)
}

// APIGateway adapts an api.Client to Gateway.
func APIGateway(c *api.Client) Gateway {
	return apiGateway{c: c}
}

type apiGateway struct {
	c *api.Client
}

func (g apiGateway) Status(ctx context.Context, jobID string) (*analysis.JobState, error) {
	return g.c.Status(ctx, jobID)
}

func (g apiGateway) PartialResults(ctx context.Context, jobID string) (*api.PartialResults, error) {
	return g.c.PartialResults(ctx, jobID)
}

func (g apiGateway) Results(ctx context.Context, jobID string) (*api.Results, error) {
	return g.c.Results(ctx, jobID)
}

func (g apiGateway) OpenProgress(ctx context.Context, jobID string) (Stream, error) {
	s, err := g.c.OpenProgress(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Level is the severity of a user-facing notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier receives user-facing notices (the dashboard's toasts).
type Notifier interface {
	Notify(level Level, title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, title, message string)

func (f NotifierFunc) Notify(level Level, title, message string) { f(level, title, message) }

// Recorder persists the outcome of a job.
type Recorder interface {
	RecordCompleted(jobID string, res *analysis.NormalizedResult) error
	RecordFailed(jobID, message string) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(Level, string, string) {}

type nopRecorder struct{}

func (nopRecorder) RecordCompleted(string, *analysis.NormalizedResult) error { return nil }
func (nopRecorder) RecordFailed(string, string) error                       { return nil }
