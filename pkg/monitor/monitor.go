// Package monitor tracks one backend analysis job to a terminal state,
// reconciling pushed progress from the live channel with periodic polling.
//
// Two producers run per job: a stream reader and a poller. Whichever first
// observes a terminal status wins a one-shot latch, cancels the other and
// performs the single final fetch. Every mutation is checked against the
// run that produced it, so nothing reported after Stop or after a newer
// Start can change the published state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/api"
)

// DefaultPollInterval is the fallback polling period.
const DefaultPollInterval = 3 * time.Second

// subscriberBuffer is the per-subscriber snapshot queue length.
const subscriberBuffer = 16

// Phase is the monitor's lifecycle position.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseChecking  Phase = "checking"
	PhaseStreaming Phase = "streaming"
	PhasePolling   Phase = "polling"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseStopped   Phase = "stopped"
)

// Snapshot is an immutable copy of the monitor's view state. Result is
// never mutated once published.
type Snapshot struct {
	JobID          string                     `json:"job_id"`
	Phase          Phase                      `json:"phase"`
	Status         analysis.JobStatus         `json:"status,omitempty"`
	Progress       float64                    `json:"progress"`
	Message        string                     `json:"message,omitempty"`
	CompletedFiles int                        `json:"completed_files"`
	TotalFiles     int                        `json:"total_files"`
	Analyzing      bool                       `json:"analyzing"`
	Progressive    bool                       `json:"progressive"`
	Result         *analysis.NormalizedResult `json:"result,omitempty"`
	Err            string                     `json:"error,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the fallback polling period.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithNotifier sets the receiver of user-facing notices.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithRecorder sets where job outcomes are persisted.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock overrides time.Now for freshness timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor tracks analysis jobs. It is safe for concurrent use; one job is
// tracked at a time and starting another stops the previous one.
type Monitor struct {
	gw       Gateway
	interval time.Duration
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state Snapshot
	cur   *run
	subs  map[chan Snapshot]struct{}
}

// run is the per-job bookkeeping for one Start.
type run struct {
	jobID string

	cancel        context.CancelFunc // ends the run, including the final fetch
	stopProducers context.CancelFunc // ends stream reader and poller
	done          chan struct{}

	// guarded by Monitor.mu
	stopped    bool
	terminal   bool
	pollErrors int

	streamMu     sync.Mutex
	stream       Stream
	streamClosed bool
}

// New returns an idle Monitor.
func New(gw Gateway, opts ...Option) *Monitor {
	m := &Monitor{
		gw:       gw,
		interval: DefaultPollInterval,
		notifier: nopNotifier{},
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
		state:    Snapshot{Phase: PhaseIdle},
		subs:     make(map[chan Snapshot]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "monitor")
	return m
}

// Start begins tracking jobID and returns immediately. Any job already
// being tracked is stopped first. The run ends when the job reaches a
// terminal state, Stop is called, or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, jobID string) error {
	if jobID == "" {
		return &api.ValidationError{Field: "job_id", Message: "job id is required"}
	}
	m.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{jobID: jobID, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.cur = r
	m.state = Snapshot{JobID: jobID, Phase: PhaseChecking, Analyzing: true}
	m.publishLocked()
	m.mu.Unlock()

	go m.run(runCtx, r)
	return nil
}

// Stop ends tracking. It closes the live channel and the poller and is
// idempotent. No response that arrives afterwards changes the state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	r := m.cur
	if r == nil || r.stopped {
		m.mu.Unlock()
		return
	}
	r.stopped = true
	if !r.terminal {
		m.state.Phase = PhaseStopped
	}
	m.state.Analyzing = false
	m.publishLocked()
	m.mu.Unlock()

	r.cancel()
	m.closeStream(r)
}

// Wait blocks until the current run finishes or ctx is done.
func (m *Monitor) Wait(ctx context.Context) error {
	done := m.Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current run finishes. With no run it is closed
// already.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.cur.done
}

// Snapshot returns the current view state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. Slow subscribers lose intermediate snapshots but
// always see the latest. Call the returned function to unsubscribe.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	ch <- m.state
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Errors returned by Refresh.
var (
	ErrNoJob   = errors.New("no job is being monitored")
	ErrStopped = errors.New("monitor stopped")
)

// Refresh re-fetches results for the tracked job: the partial set while the
// job is running, the final result once it has completed. After Stop it
// returns ErrStopped and leaves the state untouched.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.mu.Lock()
	r := m.cur
	if r == nil {
		m.mu.Unlock()
		return ErrNoJob
	}
	if r.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	status := m.state.Status
	m.mu.Unlock()

	if status == analysis.StatusCompleted {
		res, err := m.gw.Results(ctx, r.jobID)
		if err != nil {
			return fmt.Errorf("refresh results: %w", err)
		}
		norm := res.Normalize()
		m.mu.Lock()
		owned := m.owns(r)
		if owned {
			m.state.Result = norm
			m.state.Err = ""
			m.publishLocked()
		}
		m.mu.Unlock()
		if !owned {
			return ErrStopped
		}
		m.record(r.jobID, norm)
		return nil
	}

	p, err := m.gw.PartialResults(ctx, r.jobID)
	if err != nil {
		return fmt.Errorf("refresh partial results: %w", err)
	}
	m.mu.Lock()
	owned := m.owns(r)
	m.mu.Unlock()
	if !owned {
		return ErrStopped
	}
	m.applyPartial(r, p.Results, p.CompletedFiles, p.TotalFiles)
	return nil
}

func (m *Monitor) run(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()

	prodCtx, stopProducers := context.WithCancel(ctx)
	defer stopProducers()
	m.mu.Lock()
	r.stopProducers = stopProducers
	m.mu.Unlock()

	st, err := m.gw.Status(ctx, r.jobID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("initial status check failed", "job_id", r.jobID, "error", err)
		m.notify(r, LevelError, "Failed to check analysis status", err.Error())
		m.setPhase(r, PhasePolling)
		_ = m.poll(prodCtx, ctx, r)
		return
	}

	switch st.Status {
	case analysis.StatusCompleted:
		if m.claimTerminal(r, analysis.StatusCompleted, st.Message) {
			m.complete(ctx, r)
		}
		return
	case analysis.StatusFailed:
		if m.claimTerminal(r, analysis.StatusFailed, st.Message) {
			m.fail(r, st.Message)
		}
		return
	}

	// pending and processing both mean the job is still running.
	m.applyStatus(r, st)
	m.setPhase(r, PhasePolling)

	g, gctx := errgroup.WithContext(prodCtx)
	g.Go(func() error { return m.streamLoop(gctx, ctx, r) })
	g.Go(func() error { return m.poll(gctx, ctx, r) })
	_ = g.Wait()
}

// streamLoop consumes the live channel. Failures are reported and leave
// polling in charge; they never end monitoring.
func (m *Monitor) streamLoop(ctx, runCtx context.Context, r *run) error {
	s, err := m.gw.OpenProgress(ctx, r.jobID)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Info("live progress unavailable, polling", "job_id", r.jobID, "error", err)
			m.notify(r, LevelInfo, "Live updates unavailable", "Falling back to polling for progress.")
		}
		return nil
	}
	if !m.attachStream(r, s) {
		return nil
	}
	defer m.closeStream(r)
	m.setPhase(r, PhaseStreaming)

	for {
		msg, err := s.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, io.EOF) {
				m.logger.Warn("live progress channel error", "job_id", r.jobID, "error", err)
				m.notify(r, LevelInfo, "Live updates interrupted", "Continuing with polling.")
			}
			m.setPhase(r, PhasePolling)
			return nil
		}

		switch msg.Type {
		case api.MsgProgress:
			m.applyProgress(r, msg)
		case api.MsgPartialResults:
			m.applyPartial(r, msg.Results, msg.CompletedFiles, msg.TotalFiles)
		case api.MsgFinalResults:
			m.closeStream(r)
			if m.claimTerminal(r, analysis.StatusCompleted, msg.Message) {
				m.complete(runCtx, r)
			}
			return nil
		}
	}
}

// poll fetches partial results then status every interval until a terminal
// status is observed or ctx ends.
func (m *Monitor) poll(ctx, runCtx context.Context, r *run) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if p, err := m.gw.PartialResults(ctx, r.jobID); err == nil {
			m.applyPartial(r, p.Results, p.CompletedFiles, p.TotalFiles)
		} else if ctx.Err() == nil {
			m.logger.Debug("partial results fetch failed", "job_id", r.jobID, "error", err)
		}

		st, err := m.gw.Status(ctx, r.jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.pollFailed(r, err)
			continue
		}
		m.pollRecovered(r)

		switch st.Status {
		case analysis.StatusCompleted:
			if m.claimTerminal(r, analysis.StatusCompleted, st.Message) {
				m.complete(runCtx, r)
			}
			return nil
		case analysis.StatusFailed:
			if m.claimTerminal(r, analysis.StatusFailed, st.Message) {
				m.fail(r, st.Message)
			}
			return nil
		default:
			m.applyStatus(r, st)
		}
	}
}

// complete performs the single authoritative final fetch.
func (m *Monitor) complete(ctx context.Context, r *run) {
	res, err := m.gw.Results(ctx, r.jobID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("failed to load final results", "job_id", r.jobID, "error", err)
		m.mu.Lock()
		if m.owns(r) {
			m.state.Phase = PhaseCompleted
			m.state.Analyzing = false
			m.state.Err = err.Error()
			m.publishLocked()
		}
		m.mu.Unlock()
		m.notify(r, LevelError, "Failed to load results", err.Error())
		return
	}

	norm := res.Normalize()
	m.mu.Lock()
	if !m.owns(r) {
		m.mu.Unlock()
		return
	}
	m.state.Phase = PhaseCompleted
	m.state.Analyzing = false
	m.state.Result = norm
	m.state.Err = ""
	m.state.CompletedFiles = norm.Summary.TotalFiles
	if m.state.TotalFiles < norm.Summary.TotalFiles {
		m.state.TotalFiles = norm.Summary.TotalFiles
	}
	m.publishLocked()
	m.mu.Unlock()

	m.record(r.jobID, norm)
	m.notify(r, LevelSuccess, "Analysis complete",
		fmt.Sprintf("Found %d issues across %d files.", norm.Summary.TotalIssues, norm.Summary.TotalFiles))
}

func (m *Monitor) record(jobID string, res *analysis.NormalizedResult) {
	if err := m.recorder.RecordCompleted(jobID, res); err != nil {
		m.logger.Warn("failed to persist session context", "job_id", jobID, "error", err)
	}
}

func (m *Monitor) fail(r *run, message string) {
	if message == "" {
		message = "Analysis failed"
	}
	m.mu.Lock()
	if !m.owns(r) {
		m.mu.Unlock()
		return
	}
	m.state.Phase = PhaseFailed
	m.state.Analyzing = false
	m.state.Err = message
	m.publishLocked()
	m.mu.Unlock()

	if err := m.recorder.RecordFailed(r.jobID, message); err != nil {
		m.logger.Warn("failed to record job failure", "job_id", r.jobID, "error", err)
	}
	m.notify(r, LevelError, "Analysis failed", message)
}

// claimTerminal is the one-shot latch. The first caller for a run wins:
// the status is fixed, both producers are cancelled and the live channel is
// closed. Later callers get false.
func (m *Monitor) claimTerminal(r *run, status analysis.JobStatus, message string) bool {
	m.mu.Lock()
	if !m.owns(r) || r.terminal {
		m.mu.Unlock()
		return false
	}
	r.terminal = true
	m.state.Status = status
	if status == analysis.StatusCompleted {
		m.state.Progress = 100
	}
	if message != "" {
		m.state.Message = message
	}
	stop := r.stopProducers
	m.publishLocked()
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.closeStream(r)
	return true
}

// owns reports whether r may still mutate state. Callers hold m.mu.
func (m *Monitor) owns(r *run) bool {
	return m.cur == r && !r.stopped
}

// running reports whether r may apply non-terminal updates. Callers hold m.mu.
func (m *Monitor) running(r *run) bool {
	return m.owns(r) && !r.terminal
}

func (m *Monitor) setPhase(r *run, p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running(r) && m.state.Phase != p {
		m.state.Phase = p
		m.publishLocked()
	}
}

func (m *Monitor) applyStatus(r *run, st *analysis.JobState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running(r) {
		return
	}
	m.state.Status = st.Status
	m.state.Progress = st.Progress
	if st.Message != "" {
		m.state.Message = st.Message
	}
	m.publishLocked()
}

func (m *Monitor) applyProgress(r *run, msg api.ProgressMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running(r) {
		return
	}
	if m.state.Status == "" || m.state.Status == analysis.StatusPending {
		m.state.Status = analysis.StatusProcessing
	}
	m.state.Progress = msg.Progress
	if msg.Message != "" {
		m.state.Message = msg.Message
	}
	if msg.TotalFiles > 0 {
		m.state.CompletedFiles = msg.CompletedFiles
		m.state.TotalFiles = msg.TotalFiles
	}
	m.publishLocked()
}

// applyPartial replaces the partial view with records. An empty set leaves
// the current view alone.
func (m *Monitor) applyPartial(r *run, records []analysis.FileAnalysisRecord, completed, total int) {
	if len(records) == 0 {
		return
	}
	res := analysis.Transform(analysis.Input{
		JobID:   r.jobID,
		Records: records,
		Partial: true,
		Now:     m.now(),
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running(r) {
		return
	}
	m.state.Result = &res
	m.state.Progressive = true
	if completed == 0 {
		completed = len(records)
	}
	m.state.CompletedFiles = completed
	if total > 0 {
		m.state.TotalFiles = total
	}
	m.publishLocked()
}

// pollFailed reports the first failure of a streak; repeats are logged only.
func (m *Monitor) pollFailed(r *run, err error) {
	m.mu.Lock()
	if !m.running(r) {
		m.mu.Unlock()
		return
	}
	r.pollErrors++
	streak := r.pollErrors
	m.state.Err = err.Error()
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Warn("status poll failed", "job_id", r.jobID, "consecutive", streak, "error", err)
	if streak == 1 {
		m.notify(r, LevelError, "Failed to check analysis status", err.Error())
	}
}

func (m *Monitor) pollRecovered(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.pollErrors == 0 || !m.running(r) {
		return
	}
	r.pollErrors = 0
	m.state.Err = ""
	m.publishLocked()
}

func (m *Monitor) notify(r *run, level Level, title, message string) {
	m.mu.Lock()
	ok := m.owns(r)
	m.mu.Unlock()
	if ok {
		m.notifier.Notify(level, title, message)
	}
}

// attachStream records s as r's live channel. It returns false and closes
// s when the run was torn down while dialling.
func (m *Monitor) attachStream(r *run, s Stream) bool {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	if r.streamClosed {
		_ = s.Close()
		return false
	}
	r.stream = s
	return true
}

// closeStream closes r's live channel exactly once and prevents a late dial
// from attaching another.
func (m *Monitor) closeStream(r *run) {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	if r.streamClosed {
		return
	}
	r.streamClosed = true
	if r.stream != nil {
		if err := r.stream.Close(); err != nil {
			m.logger.Debug("closing live progress channel", "job_id", r.jobID, "error", err)
		}
	}
}

// publishLocked stamps and fans out the current state. Callers hold m.mu.
func (m *Monitor) publishLocked() {
	m.state.UpdatedAt = m.now()
	snap := m.state
	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
			// Drop the oldest queued snapshot so the latest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
