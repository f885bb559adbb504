// Package api is the HTTP and WebSocket client for the analysis backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/httputil"
)

// DefaultBaseURL is the hosted backend.
const DefaultBaseURL = "https://jellyfish-app-xboz9.ondigitalocean.app"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the retrying transport.
func WithHTTPClient(hc *httputil.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client talks to one backend instance.
type Client struct {
	base      *url.URL
	http      *httputil.Client
	logger    *slog.Logger
	userAgent string
}

// New returns a Client for baseURL. The URL must be absolute http(s).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api url %q: missing host", baseURL)
	}

	c := &Client{base: u, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = httputil.NewClient(httputil.WithLogger(c.logger))
	}
	c.logger = c.logger.With("component", "api")
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base.String() + "/" + strings.Join(escaped, "/")
}

// send executes req and decodes a 2xx JSON body into out.
func (c *Client) send(req *http.Request, op string, out any) error {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &Error{Op: op, StatusCode: resp.StatusCode, Detail: parseDetail(body)}
		c.logger.Debug("backend error", "op", op, "status", resp.StatusCode, "detail", apiErr.Detail)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.send(req, op, out)
}

func (c *Client) postJSON(ctx context.Context, op, u string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, op, out)
}

// UploadFile is one local file to upload. Name is the name reported to the
// backend, usually the path relative to the collection root.
type UploadFile struct {
	Name string
	Path string
}

// Upload sends files as a multipart form under the "files" field. The body
// is streamed from disk.
func (c *Client) Upload(ctx context.Context, files []UploadFile) (*UploadResponse, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Field: "files", Message: "no files to upload"}
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "upload"), pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResponse
	if err := c.send(req, "upload", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func writeParts(mw *multipart.Writer, files []UploadFile) error {
	for _, f := range files {
		if err := writePart(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, f UploadFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	name := f.Name
	if name == "" {
		name = filepath.Base(f.Path)
	}
	part, err := mw.CreateFormFile("files", filepath.ToSlash(name))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

// StartAnalysis starts analysis of previously uploaded paths under jobID.
func (c *Client) StartAnalysis(ctx context.Context, jobID string, filePaths []string) (*AnalyzeResponse, error) {
	in := AnalyzeRequest{FilePaths: filePaths, Detailed: true, RAG: true, Progressive: true}
	var out AnalyzeResponse
	if err := c.postJSON(ctx, "start analysis", c.endpoint("api", "analyze", jobID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateRepository asks the backend whether repoURL can be analyzed.
// A {valid:false} answer is returned as-is, not as an error.
func (c *Client) ValidateRepository(ctx context.Context, repoURL string) (*Validation, error) {
	if strings.TrimSpace(repoURL) == "" {
		return nil, &ValidationError{Field: "repo_url", Message: "please enter a GitHub repository URL"}
	}
	var out Validation
	in := map[string]string{"repo_url": repoURL}
	if err := c.postJSON(ctx, "github validation", c.endpoint("api", "github", "validate"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RepositoryBranches lists branches of owner/repo.
func (c *Client) RepositoryBranches(ctx context.Context, owner, repo string) (*BranchesResponse, error) {
	var out BranchesResponse
	if err := c.getJSON(ctx, "fetch branches", c.endpoint("api", "github", "branches", owner, repo), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeRepository starts a repository analysis. Progressive delivery is
// always requested.
func (c *Client) AnalyzeRepository(ctx context.Context, in GitHubAnalyzeRequest) (*GitHubAnalysisResponse, error) {
	in.Progressive = true
	var out GitHubAnalysisResponse
	if err := c.postJSON(ctx, "github analysis", c.endpoint("api", "github", "analyze"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the job state.
func (c *Client) Status(ctx context.Context, jobID string) (*analysis.JobState, error) {
	var out analysis.JobState
	if err := c.getJSON(ctx, "get status", c.endpoint("api", "status", jobID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PartialResults returns the records completed so far.
func (c *Client) PartialResults(ctx context.Context, jobID string) (*PartialResults, error) {
	var out PartialResults
	if err := c.getJSON(ctx, "get partial results", c.endpoint("api", "partial-results", jobID), &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

// Results returns the final records of a completed job.
func (c *Client) Results(ctx context.Context, jobID string) (*Results, error) {
	var out Results
	if err := c.getJSON(ctx, "get results", c.endpoint("api", "results", jobID), &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

// FinalResult fetches and normalizes the final results of jobID.
func (c *Client) FinalResult(ctx context.Context, jobID string) (*analysis.NormalizedResult, error) {
	r, err := c.Results(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return r.Normalize(), nil
}

// StartChat opens a chat session grounded on an upload or a repository.
func (c *Client) StartChat(ctx context.Context, in ChatStartRequest) (*ChatSession, error) {
	var out ChatSession
	if err := c.postJSON(ctx, "start chat session", c.endpoint("api", "chat", "start"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendChatMessage sends one user message in sessionID.
func (c *Client) SendChatMessage(ctx context.Context, sessionID, message string) (*ChatResponse, error) {
	in := map[string]string{"session_id": sessionID, "message": message}
	var out ChatResponse
	if err := c.postJSON(ctx, "send message", c.endpoint("api", "chat", "message"), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CleanupRepository asks the backend to delete the clone made for jobID.
func (c *Client) CleanupRepository(ctx context.Context, jobID string) (*CleanupResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("api", "github", "cleanup", jobID), nil)
	if err != nil {
		return nil, err
	}
	var out CleanupResponse
	if err := c.send(req, "cleanup", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns nil when the backend root answers 2xx.
func (c *Client) Health(ctx context.Context) error {
	err := c.getJSON(ctx, "health check", c.base.String()+"/", nil)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("backend unhealthy: HTTP %d", apiErr.StatusCode)
	}
	return err
}
