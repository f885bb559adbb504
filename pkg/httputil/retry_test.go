package httputil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(retries int) *Client {
	return NewClient(
		WithMaxRetries(retries),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)
}

// scripted answers the n-th request (1-based) with statuses[n-1], repeating
// the last status once the script runs out.
func scripted(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1))
		status := statuses[min(n, len(statuses))-1]
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"detail":"scripted"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		retries   int
		script    []int
		wantCode  int
		wantCalls int32
	}{
		{"first attempt succeeds", http.MethodGet, 3, []int{200}, 200, 1},
		{"recovers from 502s", http.MethodGet, 3, []int{502, 502, 200}, 200, 3},
		{"429 honours retry-after", http.MethodGet, 2, []int{429, 200}, 200, 2},
		{"4xx is final", http.MethodGet, 3, []int{404}, 404, 1},
		{"exhausted returns last response", http.MethodGet, 2, []int{503}, 503, 3},
		{"delete is retried", http.MethodDelete, 1, []int{500, 200}, 200, 2},
		{"post is sent once", http.MethodPost, 3, []int{502}, 502, 1},
		{"zero retries", http.MethodGet, 0, []int{500}, 500, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := scripted(t, tt.script...)
			var body io.Reader
			if tt.method == http.MethodPost {
				body = strings.NewReader("{}")
			}
			req, err := http.NewRequestWithContext(context.Background(), tt.method, srv.URL, body)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := fastClient(tt.retries).Do(req)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if b, _ := io.ReadAll(resp.Body); !strings.Contains(string(b), "scripted") {
				t.Errorf("returned body should be unread, got %q", b)
			}
		})
	}
}

func TestDoReplaysBody(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPut, srv.URL, strings.NewReader("payload"))
	resp, err := fastClient(2).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	close(bodies)
	n := 0
	for b := range bodies {
		n++
		if b != "payload" {
			t.Errorf("attempt %d saw body %q", n, b)
		}
	}
	if n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestDoUnreplayableBodySentOnce(t *testing.T) {
	srv, calls := scripted(t, 502)
	// A plain io.Reader leaves GetBody unset.
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPut, srv.URL, io.MultiReader(strings.NewReader("x")))
	resp, err := fastClient(3).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDoCancelledContext(t *testing.T) {
	srv, _ := scripted(t, 502)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(WithMaxRetries(5), WithBaseDelay(time.Second))
	if _, err := c.Get(ctx, srv.URL); err == nil { //nolint:bodyclose // error path
		t.Fatal("expected error from cancelled context")
	}
}

func TestDoConnectionErrorExhausts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := fastClient(1).Get(context.Background(), url) //nolint:bodyclose // error path
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !strings.Contains(err.Error(), "after 1 retries") {
		t.Errorf("error should mention retries, got %v", err)
	}
}

func TestBackoffWithinCeiling(t *testing.T) {
	c := NewClient(WithBaseDelay(100*time.Millisecond), WithMaxDelay(200*time.Millisecond))
	for attempt := 1; attempt <= 20; attempt++ {
		if d := c.backoff(attempt); d < 0 || d >= 200*time.Millisecond {
			t.Errorf("attempt %d: delay %v outside [0, 200ms)", attempt, d)
		}
	}

	if d := NewClient(WithBaseDelay(0)).backoff(3); d != 0 {
		t.Errorf("zero base delay should not wait, got %v", d)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 10, 21, 7, 28, 0, 0, time.UTC)
	c := NewClient()
	c.now = func() time.Time { return now }

	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{now.Add(4 * time.Second).Format(http.TimeFormat), 4 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.header != "" {
			resp.Header.Set("Retry-After", tt.header)
		}
		if got := c.retryAfter(resp); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
