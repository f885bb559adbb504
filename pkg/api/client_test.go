package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmylchreest/insight/pkg/httputil"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithHTTPClient(httputil.NewClient(
		httputil.WithMaxRetries(1),
		httputil.WithBaseDelay(time.Millisecond),
	)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "localhost:8000", "http://"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
}

func TestStatusAndResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, 200, map[string]any{
			"job_id": r.PathValue("id"), "status": "processing", "progress": 40, "message": "Analyzing",
		})
	})
	mux.HandleFunc("GET /api/results/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, 200, map[string]any{
			"success": true, "job_id": r.PathValue("id"), "total_files": 1,
			"completion_time": "2026-01-01T00:00:00Z",
			"results": []map[string]any{{
				"file": "a.py", "language": "python", "lines": 10, "total_issues": 1,
				"critical_issues": 1, "agent_breakdown": map[string]int{"Security": 1},
				"detailed_issues": []map[string]any{{"severity": "critical", "title": "x", "fix": "y"}},
			}},
		})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	st, err := c.Status(ctx, "job-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.JobID != "job-1" || st.Status != "processing" || st.Progress != 40 {
		t.Errorf("status = %+v", st)
	}

	res, err := c.FinalResult(ctx, "job-1")
	if err != nil {
		t.Fatalf("final result: %v", err)
	}
	if res.Metrics.SecurityScore != 95 || res.Partial {
		t.Errorf("unexpected result: metrics=%+v partial=%v", res.Metrics, res.Partial)
	}
	if res.Files[0].Issues[0].Suggestion != "y" {
		t.Errorf("fix not mapped to suggestion: %+v", res.Files[0].Issues[0])
	}
	if res.Timestamp != "2026-01-01T00:00:00Z" {
		t.Errorf("timestamp = %q", res.Timestamp)
	}
}

func TestPartialResultsNormalize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/partial-results/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, 200, map[string]any{
			"success": true, "partial": true, "completed_files": 0, "total_files": 5, "results": []any{},
		})
	})
	c := newTestClient(t, mux)

	p, err := c.PartialResults(context.Background(), "job-9")
	if err != nil {
		t.Fatal(err)
	}
	if p.JobID != "job-9" {
		t.Errorf("job id should default to the requested id, got %q", p.JobID)
	}
	if p.Normalize(time.Now()) != nil {
		t.Error("empty partial set should normalize to nil")
	}
}

func TestBackendErrorDetail(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"string detail", `{"detail":"Job not found"}`, 404, "Job not found"},
		{"list detail", `{"detail":[{"msg":"field required"},{"msg":"bad type"}]}`, 422, "field required; bad type"},
		{"no detail", `oops`, 400, "get status failed (HTTP 400)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			_, err := c.Status(context.Background(), "x")
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %T %v", err, err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("status = %d", apiErr.StatusCode)
			}
			if err.Error() != tt.want {
				t.Errorf("message = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := New(url, WithHTTPClient(httputil.NewClient(httputil.WithMaxRetries(0))))
	_, err := c.Status(context.Background(), "x")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T %v", err, err)
	}
}

func TestValidateRepository(t *testing.T) {
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["repo_url"] != "https://github.com/o/missing" {
			t.Errorf("repo_url = %q", in["repo_url"])
		}
		writeJSON(t, w, 200, map[string]any{"valid": false, "error": "Not Found"})
	}))

	_, err := c.ValidateRepository(context.Background(), "   ")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("empty url: expected ValidationError, got %v", err)
	}
	if calls != 0 {
		t.Fatal("empty url must not reach the backend")
	}

	v, err := c.ValidateRepository(context.Background(), "https://github.com/o/missing")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Error != "Not Found" {
		t.Errorf("validation = %+v", v)
	}
}

func TestAnalyzeRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyze/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in AnalyzeRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if !in.Detailed || !in.RAG || !in.Progressive || len(in.FilePaths) != 2 {
			t.Errorf("analyze body = %+v", in)
		}
		writeJSON(t, w, 200, map[string]any{"success": true, "job_id": r.PathValue("id"), "progressive": true})
	})
	mux.HandleFunc("POST /api/github/analyze", func(w http.ResponseWriter, r *http.Request) {
		var in GitHubAnalyzeRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if !in.Progressive || in.Branch != "dev" {
			t.Errorf("github analyze body = %+v", in)
		}
		writeJSON(t, w, 200, map[string]any{"success": true, "job_id": "gh-1", "files_analyzed": 12,
			"repo_stats": map[string]any{"total_files": 12, "total_lines": 900}})
	})
	mux.HandleFunc("GET /api/github/branches/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, 200, map[string]any{"success": true, "branches": []string{"main", "dev"}, "default_branch": "main"})
	})
	mux.HandleFunc("DELETE /api/github/cleanup/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, 200, map[string]any{"success": true, "message": "cleaned"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	ar, err := c.StartAnalysis(ctx, "job-1", []string{"/u/a.py", "/u/b.py"})
	if err != nil || ar.JobID != "job-1" {
		t.Fatalf("start analysis = %+v, %v", ar, err)
	}

	gr, err := c.AnalyzeRepository(ctx, GitHubAnalyzeRequest{RepoURL: "https://github.com/o/r", Branch: "dev"})
	if err != nil || gr.JobID != "gh-1" || gr.RepoStats.TotalLines != 900 {
		t.Fatalf("analyze repo = %+v, %v", gr, err)
	}

	br, err := c.RepositoryBranches(ctx, "o", "r")
	if err != nil || len(br.Branches) != 2 || br.DefaultBranch != "main" {
		t.Fatalf("branches = %+v, %v", br, err)
	}

	cr, err := c.CleanupRepository(ctx, "gh-1")
	if err != nil || !cr.Success {
		t.Fatalf("cleanup = %+v, %v", cr, err)
	}
}

func TestUploadMultipart(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"a.py": "print(1)", "b.go": "package b"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		fhs := r.MultipartForm.File["files"]
		var files []UploadedFile
		for _, fh := range fhs {
			files = append(files, UploadedFile{Name: fh.Filename, Path: "/srv/" + fh.Filename, Size: fh.Size})
		}
		writeJSON(t, w, 200, UploadResponse{Success: true, Files: files, UploadDir: "/srv", TotalFiles: len(files)})
	}))

	_, err := c.Upload(context.Background(), nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("empty upload: expected ValidationError, got %v", err)
	}

	resp, err := c.Upload(context.Background(), []UploadFile{
		{Name: "a.py", Path: filepath.Join(dir, "a.py")},
		{Path: filepath.Join(dir, "b.go")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.TotalFiles != 2 || resp.UploadDir != "/srv" {
		t.Errorf("upload response = %+v", resp)
	}
	paths := resp.Paths()
	if len(paths) != 2 || paths[0] != "/srv/a.py" || paths[1] != "/srv/b.go" {
		t.Errorf("paths = %v", paths)
	}
}

func TestChat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/start", func(w http.ResponseWriter, r *http.Request) {
		var in ChatStartRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		writeJSON(t, w, 200, map[string]any{"success": true, "session_id": "s-1",
			"codebase_info": map[string]any{"path": in.UploadDir, "status": "ready"}})
	})
	mux.HandleFunc("POST /api/chat/message", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		writeJSON(t, w, 200, map[string]any{"success": true, "response": map[string]any{
			"content": "echo: " + in["message"], "confidence": 0.9, "follow_up_suggestions": []string{"more?"},
		}})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	s, err := c.StartChat(ctx, ChatStartRequest{UploadDir: "/srv"})
	if err != nil || s.SessionID != "s-1" || s.CodebaseInfo.Path != "/srv" {
		t.Fatalf("start chat = %+v, %v", s, err)
	}
	r, err := c.SendChatMessage(ctx, s.SessionID, "hi")
	if err != nil || r.Response.Content != "echo: hi" || len(r.Response.FollowUpSuggestions) != 1 {
		t.Fatalf("send = %+v, %v", r, err)
	}
}

func TestHealth(t *testing.T) {
	healthy := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	if err := healthy.Health(context.Background()); err != nil {
		t.Errorf("healthy backend: %v", err)
	}

	down := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	if err := down.Health(context.Background()); err == nil {
		t.Error("expected unhealthy backend")
	}
}

func TestUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithUserAgent("insight/1.2.3"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != "insight/1.2.3" {
		t.Errorf("User-Agent = %q", got)
	}
}
