// Package httputil provides the retrying HTTP transport used to reach the
// analysis backend.
package httputil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Default retry configuration.
const (
	DefaultMaxRetries  = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultHTTPTimeout = 30 * time.Second
)

// drainLimit bounds how much of a discarded response is read so the
// connection can be reused.
const drainLimit = 4 << 10

// policy decides how often and how long to back off.
type policy struct {
	retries int
	base    time.Duration
	ceiling time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets how many times a request is retried after the first
// attempt. Zero disables retries; negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.policy.retries = n
		}
	}
}

// WithBaseDelay sets the first backoff step before jitter.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.policy.base = d }
}

// WithMaxDelay caps every wait, including a server's Retry-After.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) { c.policy.ceiling = d }
}

// WithHTTPTimeout bounds each attempt.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithHTTPClient swaps the underlying client; its timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client sends requests through an http.Client and retries idempotent ones
// that fail transiently.
type Client struct {
	hc     *http.Client
	policy policy
	logger *slog.Logger
	now    func() time.Time
}

// NewClient returns a Client with the default policy.
func NewClient(opts ...Option) *Client {
	c := &Client{
		hc: &http.Client{Timeout: DefaultHTTPTimeout},
		policy: policy{
			retries: DefaultMaxRetries,
			base:    DefaultBaseDelay,
			ceiling: DefaultMaxDelay,
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retryableStatus reports whether a response status is worth another try.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// replayable reports whether req may be sent more than once. Submissions,
// uploads and chat messages are POSTs and go out exactly once.
func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// Do sends req. Replayable requests are retried on connection errors and on
// 429, 500, 502, 503 and 504, with jittered exponential backoff or the
// server's Retry-After, whichever is longer. The context of req bounds the
// whole exchange.
//
// When retries run out on a retryable status the last response is returned
// unread so the caller can report the server's error body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	retries := 0
	if replayable(req) {
		retries = c.policy.retries
	}
	ctx := req.Context()

	var (
		lastErr    error
		serverWait time.Duration
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := max(c.backoff(attempt), min(serverWait, c.policy.ceiling))
			c.logger.Debug("retrying request",
				"component", "httputil", "method", req.Method, "url", req.URL.Redacted(),
				"attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.hc.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr, serverWait = err, 0
		case !retryableStatus(resp.StatusCode) || attempt == retries:
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
			serverWait = c.retryAfter(resp)
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
			resp.Body.Close()
		}

		if attempt == retries {
			break
		}
	}

	if retries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w (after %d retries)", lastErr, retries)
}

// Get sends a GET through Do.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff is the full-jitter delay before the given 1-indexed retry:
// uniform in [0, min(base*2^(attempt-1), ceiling)).
func (c *Client) backoff(attempt int) time.Duration {
	limit := c.policy.base
	for i := 1; i < attempt && limit < c.policy.ceiling; i++ {
		limit *= 2
	}
	limit = min(limit, c.policy.ceiling)
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

// retryAfter reads Retry-After as delay-seconds or an HTTP date.
func (c *Client) retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(c.now()); d > 0 {
			return d
		}
	}
	return 0
}
