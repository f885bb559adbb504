package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/kv"
)

// Context is the dashboard's resumable view of the most recent job.
type Context struct {
	JobID      string                     `json:"job_id"`
	Source     Source                     `json:"source"`
	UploadDir  string                     `json:"upload_dir,omitempty"`
	GitHubRepo string                     `json:"github_repo,omitempty"`
	Branch     string                     `json:"branch,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
	Result     *analysis.NormalizedResult `json:"analysis_results,omitempty"`
}

// IsGitHub reports whether the context refers to a repository analysis.
func (c *Context) IsGitHub() bool {
	return c.Source == SourceGitHub || c.GitHubRepo != ""
}

// ContextStore keeps a single current Context with a retention window.
type ContextStore struct {
	store kv.Store
	opts  options
}

// NewContextStore returns a ContextStore over store.
func NewContextStore(store kv.Store, opts ...Option) *ContextStore {
	return &ContextStore{store: store, opts: buildOptions(opts)}
}

// Save upserts c as the current context and stamps its update time.
func (s *ContextStore) Save(c *Context) error {
	now := s.opts.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if err := kv.SetJSON(s.store, keyContext, c, 0); err != nil {
		return err
	}
	s.opts.logger.Debug("context saved", "job_id", c.JobID)
	return nil
}

// Load returns the current context, or nil when there is none. Expired or
// malformed records are purged and reported as absent.
func (s *ContextStore) Load() (*Context, error) {
	data, err := s.store.Get(keyContext)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		s.opts.logger.Warn("discarding malformed dashboard context", "error", err)
		return nil, s.Clear()
	}
	if c.UpdatedAt.IsZero() || s.opts.now().Sub(c.UpdatedAt) >= s.opts.retention {
		s.opts.logger.Debug("dashboard context expired", "job_id", c.JobID)
		return nil, s.Clear()
	}
	return &c, nil
}

// Clear removes the current context.
func (s *ContextStore) Clear() error {
	return s.store.Delete(keyContext)
}

// Age returns how long ago the current context was saved. ok is false when
// there is no valid context.
func (s *ContextStore) Age() (age time.Duration, ok bool, err error) {
	c, err := s.Load()
	if err != nil || c == nil {
		return 0, false, err
	}
	return s.opts.now().Sub(c.UpdatedAt), true, nil
}

// UpdateResults caches res on the current context. It is a no-op when no
// valid context exists.
func (s *ContextStore) UpdateResults(res *analysis.NormalizedResult) error {
	c, err := s.Load()
	if err != nil || c == nil {
		return err
	}
	c.Result = res
	return s.Save(c)
}
