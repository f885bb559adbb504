// Package watcher reports debounced batches of source file changes under a
// root directory.
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/insight/pkg/ignore"
)

// DefaultDebounceDelay is the quiet period before a batch is delivered.
const DefaultDebounceDelay = 10 * time.Second

// maxDeferrals bounds how many quiet periods a steady stream of changes
// can postpone a batch by.
const maxDeferrals = 3

type Config struct {
	// Root is the watched tree. Defaults to the working directory.
	Root          string
	DebounceDelay time.Duration
	// Matcher skips ignored paths. Defaults to ignore.New(Root).
	Matcher *ignore.Matcher
	// FileFilter, when set, must accept a path for it to be reported.
	FileFilter func(path string) bool
	Logger     *slog.Logger
}

// FileChangeHandler receives each batch: path to the union of the
// operations seen for it.
type FileChangeHandler interface {
	OnChanges(files map[string]fsnotify.Op)
}

type FileChangeHandlerFunc func(files map[string]fsnotify.Op)

func (f FileChangeHandlerFunc) OnChanges(files map[string]fsnotify.Op) {
	f(files)
}

// Watcher delivers batches from a single goroutine, so handlers never run
// concurrently with each other.
type Watcher struct {
	fsw      *fsnotify.Watcher
	config   Config
	logger   *slog.Logger
	handlers []FileChangeHandler

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  time.Time

	dirs    atomic.Int64
	pending atomic.Int64
}

func New(config Config, handlers ...FileChangeHandler) (*Watcher, error) {
	if config.Root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		config.Root = cwd
	}
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = DefaultDebounceDelay
	}
	if config.Matcher == nil {
		m, err := ignore.New(config.Root)
		if err != nil {
			return nil, err
		}
		config.Matcher = m
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		config:   config,
		logger:   logger.With("component", "watcher"),
		handlers: handlers,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// AddHandler registers h. Call before Start.
func (w *Watcher) AddHandler(h FileChangeHandler) {
	w.handlers = append(w.handlers, h)
}

// Start watches every directory under Root that is not ignored and begins
// delivering batches.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.config.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.config.Root && w.ignored(path, true) {
			return filepath.SkipDir
		}
		w.watchDir(path)
		return nil
	})
	if err != nil {
		return err
	}

	w.started = time.Now()
	go w.loop()
	w.logger.Info("watching", "root", w.config.Root, "dirs", w.dirs.Load(), "debounce", w.config.DebounceDelay)
	return nil
}

// Stop ends delivery and drops changes not yet delivered. It waits for a
// batch in progress to finish.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stop) })
	if !w.started.IsZero() {
		<-w.done
	}
	return w.fsw.Close()
}

type WatcherStats struct {
	Root         string
	DirsWatched  int
	Debounce     time.Duration
	PendingFiles int
	Uptime       time.Duration
}

func (w *Watcher) Stats() WatcherStats {
	var up time.Duration
	if !w.started.IsZero() {
		up = time.Since(w.started)
	}
	return WatcherStats{
		Root:         w.config.Root,
		DirsWatched:  int(w.dirs.Load()),
		Debounce:     w.config.DebounceDelay,
		PendingFiles: int(w.pending.Load()),
		Uptime:       up,
	}
}

func (w *Watcher) watchDir(path string) {
	if err := w.fsw.Add(path); err != nil {
		w.logger.Debug("cannot watch directory", "path", path, "error", err)
		return
	}
	w.dirs.Add(1)
}

func (w *Watcher) ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil {
		rel = path
	}
	return w.config.Matcher.Match(filepath.ToSlash(rel), isDir)
}

// scratchFile matches editor backups and temporary files.
func scratchFile(name string) bool {
	return strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasPrefix(name, ".#")
}

// loop owns the pending batch and the debounce timer. Each change restarts
// the quiet period, up to maxDeferrals times per batch.
func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	deferrals := 0

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path, op, ok := w.classify(event)
			if !ok {
				continue
			}
			first := len(pending) == 0
			pending[path] |= op
			w.pending.Store(int64(len(pending)))
			switch {
			case first:
				deferrals = 0
				timer.Reset(w.config.DebounceDelay)
			case deferrals < maxDeferrals:
				deferrals++
				timer.Reset(w.config.DebounceDelay)
			}

		case <-timer.C:
			batch := pending
			pending = make(map[string]fsnotify.Op)
			w.pending.Store(0)
			w.deliver(batch)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// classify turns an event into a reportable change. New directories are
// watched and never reported themselves.
func (w *Watcher) classify(event fsnotify.Event) (string, fsnotify.Op, bool) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignored(event.Name, true) {
				w.watchDir(event.Name)
				w.logger.Debug("watching new directory", "path", event.Name)
			}
			return "", 0, false
		}
	}

	op := event.Op & (fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove)
	switch {
	case op == 0,
		scratchFile(filepath.Base(event.Name)),
		w.ignored(event.Name, false),
		w.config.FileFilter != nil && !w.config.FileFilter(event.Name):
		return "", 0, false
	}
	return event.Name, op, true
}

func (w *Watcher) deliver(batch map[string]fsnotify.Op) {
	if len(batch) == 0 {
		return
	}
	w.logger.Info("delivering file changes", "count", len(batch))
	for _, h := range w.handlers {
		h.OnChanges(batch)
	}
}

// IsRemove reports whether op includes a removal.
func IsRemove(op fsnotify.Op) bool {
	return op.Has(fsnotify.Remove)
}
