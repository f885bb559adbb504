// Package server exposes the dashboard view over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/monitor"
	"github.com/jmylchreest/insight/pkg/search"
	"github.com/jmylchreest/insight/pkg/session"
)

// SnapshotSource provides the live job state, typically a *monitor.Monitor.
type SnapshotSource interface {
	Snapshot() monitor.Snapshot
}

// Server serves read-only dashboard data.
type Server struct {
	addr     string
	mux      *http.ServeMux
	logger   *slog.Logger
	contexts *session.ContextStore
	history  *session.History
	live     SnapshotSource

	mu       sync.Mutex
	index    *search.Index
	indexKey string
}

// Option configures a Server.
type Option func(*Server)

// WithContexts serves the persisted dashboard context.
func WithContexts(c *session.ContextStore) Option {
	return func(s *Server) { s.contexts = c }
}

// WithHistory serves the session history.
func WithHistory(h *session.History) Option {
	return func(s *Server) { s.history = h }
}

// WithSnapshots serves live job state from src.
func WithSnapshots(src SnapshotSource) Option {
	return func(s *Server) { s.live = src }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/dashboard", s.handleDashboard)
	s.mux.HandleFunc("/api/issues", s.handleIssues)
	s.mux.HandleFunc("/api/search", s.handleSearch)
	s.mux.HandleFunc("/api/charts", s.handleCharts)
	s.mux.HandleFunc("/api/context", s.handleContext)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSession)
	s.mux.HandleFunc("/health", s.handleHealth)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("view server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Close releases the search index.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}

func (s *Server) getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// dashboard is the payload of /api/dashboard.
type dashboard struct {
	Live    *monitor.Snapshot          `json:"live,omitempty"`
	Context *session.Context           `json:"context,omitempty"`
	Result  *analysis.NormalizedResult `json:"result,omitempty"`
}

// current resolves the result to show: the live snapshot's result, or the
// one cached on the dashboard context.
func (s *Server) current() (dashboard, error) {
	var d dashboard
	if s.live != nil {
		snap := s.live.Snapshot()
		if snap.JobID != "" {
			d.Live = &snap
			d.Result = snap.Result
		}
	}
	if s.contexts != nil {
		c, err := s.contexts.Load()
		if err != nil {
			return d, err
		}
		if c != nil {
			d.Context = c
			if d.Result == nil && (d.Live == nil || d.Live.JobID == c.JobID) {
				d.Result = c.Result
			}
		}
	}
	return d, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	d, err := s.current()
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, d, http.StatusOK)
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	d, err := s.current()
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		s.errorResponse(w, "invalid page", http.StatusBadRequest)
		return
	}
	perPage, err := intParam(q.Get("per_page"), analysis.DefaultIssuesPerPage)
	if err != nil {
		s.errorResponse(w, "invalid per_page", http.StatusBadRequest)
		return
	}

	issues := analysis.FilterIssues(analysis.FlattenIssues(d.Result), analysis.IssueFilter{
		Agent:    q.Get("agent"),
		File:     q.Get("file"),
		Severity: q.Get("severity"),
		Search:   q.Get("q"),
	})
	s.jsonResponse(w, analysis.Paginate(issues, page, perPage), http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		s.errorResponse(w, "query parameter 'q' required", http.StatusBadRequest)
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), search.DefaultLimit)
	if err != nil {
		s.errorResponse(w, "invalid limit", http.StatusBadRequest)
		return
	}
	d, err := s.current()
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncIndex(d.Result); err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hits, err := s.index.Search(query, limit)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, hits, http.StatusOK)
}

// syncIndex rebuilds the index when the result changed. Caller holds mu.
func (s *Server) syncIndex(res *analysis.NormalizedResult) error {
	key := ""
	if res != nil {
		key = res.JobID + "@" + res.LastUpdated.String() + "#" + strconv.Itoa(res.Summary.TotalIssues) +
			"/" + strconv.FormatBool(res.Partial)
	}
	if s.index != nil && key == s.indexKey {
		return nil
	}
	if s.index == nil {
		idx, err := search.New()
		if err != nil {
			return err
		}
		s.index = idx
	}
	if err := s.index.LoadResult(res); err != nil {
		return err
	}
	s.indexKey = key
	return nil
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	d, err := s.current()
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, analysis.BuildCharts(d.Result), http.StatusOK)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	if s.contexts == nil {
		s.errorResponse(w, "no analysis context", http.StatusNotFound)
		return
	}
	c, err := s.contexts.Load()
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if c == nil {
		s.errorResponse(w, "no analysis context", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, c, http.StatusOK)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	sessions := []session.Session{}
	if s.history != nil {
		all, err := s.history.All()
		if err != nil {
			s.errorResponse(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sessions = append(sessions, all...)
	}
	s.jsonResponse(w, sessions, http.StatusOK)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	slug := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if slug == "" {
		s.errorResponse(w, "session slug required", http.StatusBadRequest)
		return
	}
	if s.history == nil {
		s.errorResponse(w, session.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	sess, err := s.history.BySlug(slug)
	if errors.Is(err, session.ErrNotFound) {
		s.errorResponse(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, sess, http.StatusOK)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
