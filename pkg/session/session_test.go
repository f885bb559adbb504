package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/kv"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
}

func TestContextRoundTrip(t *testing.T) {
	c := newClock()
	store := NewContextStore(kv.NewMemoryStore(c.Now), WithClock(c.Now))

	got, err := store.Load()
	if err != nil || got != nil {
		t.Fatalf("empty store: got %v, %v", got, err)
	}

	in := &Context{JobID: "job-1", Source: SourceGitHub, GitHubRepo: "https://github.com/a/b", Branch: "main"}
	if err := store.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err = store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.JobID != "job-1" || got.Branch != "main" || !got.IsGitHub() {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.UpdatedAt.Equal(c.Now()) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, c.Now())
	}
}

func TestContextRetention(t *testing.T) {
	c := newClock()
	mem := kv.NewMemoryStore(c.Now)
	store := NewContextStore(mem, WithClock(c.Now))

	if err := store.Save(&Context{JobID: "job-1", Source: SourceUpload}); err != nil {
		t.Fatal(err)
	}

	c.Advance(23 * time.Hour)
	if got, _ := store.Load(); got == nil {
		t.Fatal("context expired before retention window")
	}
	age, ok, err := store.Age()
	if err != nil || !ok || age != 23*time.Hour {
		t.Errorf("age = %v ok=%v err=%v", age, ok, err)
	}

	c.Advance(time.Hour)
	got, err := store.Load()
	if err != nil || got != nil {
		t.Fatalf("expected expired context to be absent, got %+v, %v", got, err)
	}
	if _, err := mem.Get(keyContext); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expired context was not purged: %v", err)
	}
}

func TestContextMalformedIsPurged(t *testing.T) {
	c := newClock()
	mem := kv.NewMemoryStore(c.Now)
	store := NewContextStore(mem, WithClock(c.Now))

	_ = mem.Set(keyContext, []byte("{broken"), 0)
	got, err := store.Load()
	if err != nil || got != nil {
		t.Fatalf("got %+v, %v", got, err)
	}
	if _, err := mem.Get(keyContext); !errors.Is(err, kv.ErrNotFound) {
		t.Error("malformed context was not purged")
	}

	// A record without a timestamp is never valid.
	_ = mem.Set(keyContext, []byte(`{"job_id":"x"}`), 0)
	if got, _ := store.Load(); got != nil {
		t.Errorf("context without timestamp should be invalid, got %+v", got)
	}
}

func TestContextUpdateResults(t *testing.T) {
	c := newClock()
	store := NewContextStore(kv.NewMemoryStore(c.Now), WithClock(c.Now))

	res := &analysis.NormalizedResult{JobID: "job-1"}
	if err := store.UpdateResults(res); err != nil {
		t.Fatalf("update without context: %v", err)
	}
	if got, _ := store.Load(); got != nil {
		t.Fatal("UpdateResults must not create a context")
	}

	_ = store.Save(&Context{JobID: "job-1"})
	c.Advance(time.Hour)
	if err := store.UpdateResults(res); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Load()
	if got.Result == nil || got.Result.JobID != "job-1" {
		t.Errorf("result not cached: %+v", got.Result)
	}
	if !got.UpdatedAt.Equal(c.Now()) {
		t.Error("UpdateResults should touch the timestamp")
	}
}

func TestHistoryCreateAndCurrent(t *testing.T) {
	c := newClock()
	h := NewHistory(kv.NewMemoryStore(c.Now), WithClock(c.Now))

	s, err := h.Create("job-1", Metadata{Source: SourceUpload, FileCount: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(s.Slug, "analysis-") || s.Status != StatusProcessing {
		t.Errorf("unexpected session %+v", s)
	}

	cur, err := h.CurrentSession()
	if err != nil || cur == nil || cur.ID != s.ID {
		t.Fatalf("current = %+v, %v", cur, err)
	}

	err = h.Update(s.Slug, func(x *Session) {
		x.Status = StatusCompleted
		x.Progress = 100
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.BySlug(s.Slug)
	if err != nil || got.Status != StatusCompleted || got.Progress != 100 {
		t.Errorf("update not applied: %+v, %v", got, err)
	}
	if byJob, err := h.ByJobID("job-1"); err != nil || byJob.Slug != s.Slug {
		t.Errorf("ByJobID = %+v, %v", byJob, err)
	}

	if err := h.Update("missing", func(*Session) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	c := newClock()
	h := NewHistory(kv.NewMemoryStore(c.Now), WithClock(c.Now), WithLimit(5))

	var first string
	for i := 0; i < 7; i++ {
		s, err := h.Create(fmt.Sprintf("job-%d", i), Metadata{Source: SourceUpload})
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = s.Slug
		}
		c.Advance(time.Second)
	}

	all, err := h.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("history has %d sessions, want 5", len(all))
	}
	if all[0].JobID != "job-2" || all[4].JobID != "job-6" {
		t.Errorf("wrong sessions kept: first=%s last=%s", all[0].JobID, all[4].JobID)
	}
	if _, err := h.BySlug(first); !errors.Is(err, ErrNotFound) {
		t.Error("oldest session should have been evicted")
	}
}

func TestHistoryDefaultLimit(t *testing.T) {
	c := newClock()
	h := NewHistory(kv.NewMemoryStore(c.Now), WithClock(c.Now))
	for i := 0; i < DefaultHistoryLimit+3; i++ {
		if _, err := h.Create(fmt.Sprintf("job-%d", i), Metadata{}); err != nil {
			t.Fatal(err)
		}
	}
	all, _ := h.All()
	if len(all) != DefaultHistoryLimit {
		t.Errorf("len = %d, want %d", len(all), DefaultHistoryLimit)
	}
}

func TestHistoryCleanupKeepsProcessing(t *testing.T) {
	c := newClock()
	h := NewHistory(kv.NewMemoryStore(c.Now), WithClock(c.Now))

	old, _ := h.Create("old-done", Metadata{})
	_ = h.Update(old.Slug, func(s *Session) { s.Status = StatusCompleted })
	_, _ = h.Create("old-running", Metadata{})

	c.Advance(8 * 24 * time.Hour)
	_, _ = h.Create("fresh", Metadata{})

	n, err := h.Cleanup(DefaultCleanupAge)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	all, _ := h.All()
	if len(all) != 2 || all[0].JobID != "old-running" || all[1].JobID != "fresh" {
		t.Errorf("remaining = %+v", all)
	}
}

func TestHistoryCorruptListTreatedAsEmpty(t *testing.T) {
	c := newClock()
	mem := kv.NewMemoryStore(c.Now)
	h := NewHistory(mem, WithClock(c.Now))

	_ = mem.Set(keySessions, []byte("not json"), 0)
	all, err := h.All()
	if err != nil || len(all) != 0 {
		t.Fatalf("got %v, %v", all, err)
	}
	if _, err := h.Create("job-1", Metadata{}); err != nil {
		t.Fatalf("create after corruption: %v", err)
	}
	all, _ = h.All()
	if len(all) != 1 {
		t.Errorf("len = %d, want 1", len(all))
	}
}

func TestHistoryClear(t *testing.T) {
	c := newClock()
	h := NewHistory(kv.NewMemoryStore(c.Now), WithClock(c.Now))
	_, _ = h.Create("job-1", Metadata{})
	if err := h.Clear(); err != nil {
		t.Fatal(err)
	}
	if cur, _ := h.Current(); cur != "" {
		t.Errorf("current = %q after clear", cur)
	}
	if all, _ := h.All(); len(all) != 0 {
		t.Errorf("history not cleared: %v", all)
	}
}

func TestRecorder(t *testing.T) {
	c := newClock()
	mem := kv.NewMemoryStore(c.Now)
	contexts := NewContextStore(mem, WithClock(c.Now))
	history := NewHistory(mem, WithClock(c.Now))

	s, _ := history.Create("job-1", Metadata{Source: SourceGitHub, GitHubRepo: "https://github.com/o/r"})
	rec := &Recorder{
		Contexts: contexts,
		History:  history,
		Base:     Context{Source: SourceGitHub, GitHubRepo: "https://github.com/o/r", Branch: "main"},
	}

	res := &analysis.NormalizedResult{JobID: "job-1"}
	if err := rec.RecordCompleted("job-1", res); err != nil {
		t.Fatal(err)
	}

	ctx, err := contexts.Load()
	if err != nil || ctx == nil {
		t.Fatalf("context not saved: %v", err)
	}
	if ctx.JobID != "job-1" || ctx.Branch != "main" || ctx.Result == nil {
		t.Errorf("context = %+v", ctx)
	}
	got, _ := history.BySlug(s.Slug)
	if got.Status != StatusCompleted || got.Progress != 100 {
		t.Errorf("session = %+v", got)
	}

	s2, _ := history.Create("job-2", Metadata{})
	if err := rec.RecordFailed("job-2", "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ = history.BySlug(s2.Slug)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	if err := rec.RecordFailed("unknown", ""); err != nil {
		t.Errorf("unknown job should be ignored: %v", err)
	}
}

func TestRecorderOnlyPersistsCompletedJobs(t *testing.T) {
	c := newClock()
	mem := kv.NewMemoryStore(c.Now)
	contexts := NewContextStore(mem, WithClock(c.Now))
	history := NewHistory(mem, WithClock(c.Now))

	if _, err := history.Create("job-1", Metadata{Source: SourceUpload, UploadDir: "/uploads/a"}); err != nil {
		t.Fatal(err)
	}
	rec := &Recorder{Contexts: contexts, History: history}

	if err := rec.RecordFailed("job-1", "boom"); err != nil {
		t.Fatal(err)
	}
	if ctx, err := contexts.Load(); err != nil || ctx != nil {
		t.Fatalf("failed job left a context: %+v, %v", ctx, err)
	}

	if _, err := history.Create("job-2", Metadata{Source: SourceUpload, UploadDir: "/uploads/b"}); err != nil {
		t.Fatal(err)
	}
	if err := rec.RecordCompleted("job-2", &analysis.NormalizedResult{JobID: "job-2"}); err != nil {
		t.Fatal(err)
	}
	ctx, err := contexts.Load()
	if err != nil || ctx == nil {
		t.Fatalf("completed job not saved: %v", err)
	}
	if ctx.JobID != "job-2" || ctx.Source != SourceUpload || ctx.UploadDir != "/uploads/b" {
		t.Errorf("context should be filled from the history session: %+v", ctx)
	}
}

func TestRecorderIgnoresBaseForOtherJob(t *testing.T) {
	mem := kv.NewMemoryStore(nil)
	contexts := NewContextStore(mem)
	rec := &Recorder{
		Contexts: contexts,
		Base:     Context{JobID: "job-1", Source: SourceGitHub, GitHubRepo: "https://github.com/o/r"},
	}
	if err := rec.RecordCompleted("job-2", &analysis.NormalizedResult{JobID: "job-2"}); err != nil {
		t.Fatal(err)
	}
	ctx, _ := contexts.Load()
	if ctx == nil || ctx.JobID != "job-2" || ctx.GitHubRepo != "" {
		t.Errorf("context = %+v", ctx)
	}
}
