// Package session persists the dashboard context and the bounded history of
// analysis sessions on top of a kv.Store.
package session

import (
	"log/slog"
	"time"
)

// Defaults.
const (
	DefaultRetention    = 24 * time.Hour
	DefaultHistoryLimit = 50
	DefaultCleanupAge   = 7 * 24 * time.Hour
)

// Storage keys.
const (
	keyContext  = "dashboard_data"
	keySessions = "analysis_sessions"
	keyCurrent  = "current_analysis_session"
)

// Source identifies how an analysis was submitted.
type Source string

const (
	SourceUpload Source = "file_upload"
	SourceGitHub Source = "github"
)

type options struct {
	retention time.Duration
	limit     int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a ContextStore or History.
type Option func(*options)

// WithRetention sets how long a saved dashboard context stays valid.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithLimit caps the number of sessions kept in history.
func WithLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.limit = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for data errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		retention: DefaultRetention,
		limit:     DefaultHistoryLimit,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	o.logger = o.logger.With("component", "session")
	return o
}
