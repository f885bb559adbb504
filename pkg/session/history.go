package session

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/insight/pkg/kv"
)

// ErrNotFound is returned when no session matches a slug.
var ErrNotFound = errors.New("session not found")

// Status of a tracked session.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Metadata describes what was submitted for analysis.
type Metadata struct {
	Source     Source `json:"source"`
	UploadDir  string `json:"upload_dir,omitempty"`
	GitHubRepo string `json:"github_repo,omitempty"`
	Branch     string `json:"branch,omitempty"`
	TotalFiles int    `json:"total_files,omitempty"`
	FileCount  int    `json:"file_count,omitempty"`
}

// Session is one entry in the analysis history.
type Session struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	JobID       string    `json:"job_id"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	Metadata    Metadata  `json:"metadata"`
	Progress    float64   `json:"progress"`
	LastUpdated time.Time `json:"last_updated,omitzero"`
}

// History is the bounded list of analysis sessions plus a pointer to the
// current one. Oldest sessions are evicted first.
type History struct {
	mu    sync.Mutex
	store kv.Store
	opts  options
}

// NewHistory returns a History over store.
func NewHistory(store kv.Store, opts ...Option) *History {
	return &History{store: store, opts: buildOptions(opts)}
}

// Create starts a new processing session for jobID and makes it current.
func (h *History) Create(jobID string, meta Metadata) (*Session, error) {
	now := h.opts.now().UTC()
	id := ulid.Make().String()
	s := &Session{
		ID:        id,
		Slug:      newSlug(id, now),
		JobID:     jobID,
		Status:    StatusProcessing,
		CreatedAt: now,
		Metadata:  meta,
	}
	if err := h.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// newSlug builds "analysis-<random>-<base36 millis>".
func newSlug(id string, now time.Time) string {
	random := strings.ToLower(id[len(id)-8:])
	return "analysis-" + random + "-" + strconv.FormatInt(now.UnixMilli(), 36)
}

// Save upserts s by ID, trims the history to its limit and makes s current.
func (h *History) Save(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, err := h.load()
	if err != nil {
		return err
	}
	s.LastUpdated = h.opts.now().UTC()
	if i := slices.IndexFunc(sessions, func(x Session) bool { return x.ID == s.ID }); i >= 0 {
		sessions[i] = *s
	} else {
		sessions = append(sessions, *s)
	}
	if len(sessions) > h.opts.limit {
		sessions = sessions[len(sessions)-h.opts.limit:]
	}
	if err := h.store.Set(keyCurrent, []byte(s.Slug), 0); err != nil {
		return err
	}
	return h.write(sessions)
}

// All returns every session, oldest first.
func (h *History) All() ([]Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

// BySlug returns the session with the given slug.
func (h *History) BySlug(slug string) (*Session, error) {
	sessions, err := h.All()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Slug == slug {
			return &sessions[i], nil
		}
	}
	return nil, ErrNotFound
}

// ByJobID returns the most recent session tracking jobID.
func (h *History) ByJobID(jobID string) (*Session, error) {
	sessions, err := h.All()
	if err != nil {
		return nil, err
	}
	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].JobID == jobID {
			return &sessions[i], nil
		}
	}
	return nil, ErrNotFound
}

// Update applies fn to the session with the given slug and persists it. The
// current pointer is left alone.
func (h *History) Update(slug string, fn func(*Session)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, err := h.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(sessions, func(x Session) bool { return x.Slug == slug })
	if i < 0 {
		return ErrNotFound
	}
	fn(&sessions[i])
	sessions[i].LastUpdated = h.opts.now().UTC()
	return h.write(sessions)
}

// Current returns the slug of the current session, or "" if none is set.
func (h *History) Current() (string, error) {
	data, err := h.store.Get(keyCurrent)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	return string(data), err
}

// CurrentSession resolves the current pointer. It returns nil when no
// session is current or the pointed-to session has been evicted.
func (h *History) CurrentSession() (*Session, error) {
	slug, err := h.Current()
	if err != nil || slug == "" {
		return nil, err
	}
	s, err := h.BySlug(slug)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// Cleanup removes sessions created more than maxAge ago, except those still
// processing. It returns the number removed.
func (h *History) Cleanup(maxAge time.Duration) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, err := h.load()
	if err != nil {
		return 0, err
	}
	cutoff := h.opts.now().Add(-maxAge)
	kept := slices.DeleteFunc(slices.Clone(sessions), func(s Session) bool {
		return !s.CreatedAt.After(cutoff) && s.Status != StatusProcessing
	})
	removed := len(sessions) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	h.opts.logger.Info("cleaned up old sessions", "removed", removed)
	return removed, h.write(kept)
}

// Clear drops the whole history and the current pointer.
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.Delete(keyCurrent); err != nil {
		return err
	}
	return h.store.Delete(keySessions)
}

// load reads the session list. A corrupt list is logged, purged and
// treated as empty.
func (h *History) load() ([]Session, error) {
	data, err := h.store.Get(keySessions)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		h.opts.logger.Warn("discarding malformed session history", "error", err)
		return nil, h.store.Delete(keySessions)
	}
	return sessions, nil
}

func (h *History) write(sessions []Session) error {
	return kv.SetJSON(h.store, keySessions, sessions, 0)
}
