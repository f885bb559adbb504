// Package submit starts analysis jobs from local files or GitHub
// repositories and registers them in the session history.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/api"
	"github.com/jmylchreest/insight/pkg/session"
)

// DefaultBranch is used when the backend does not report one.
const DefaultBranch = "main"

// Backend is the subset of the API client used for submission.
type Backend interface {
	Upload(ctx context.Context, files []api.UploadFile) (*api.UploadResponse, error)
	StartAnalysis(ctx context.Context, jobID string, filePaths []string) (*api.AnalyzeResponse, error)
	ValidateRepository(ctx context.Context, repoURL string) (*api.Validation, error)
	RepositoryBranches(ctx context.Context, owner, repo string) (*api.BranchesResponse, error)
	AnalyzeRepository(ctx context.Context, in api.GitHubAnalyzeRequest) (*api.GitHubAnalysisResponse, error)
}

// Job is a submitted analysis.
type Job struct {
	ID         string
	Source     session.Source
	UploadDir  string
	GitHubRepo string
	Branch     string
	FileCount  int
	Session    *session.Session
	// Repository is set for GitHub jobs.
	Repository *api.Validation
}

// Context returns the dashboard context seeded from the job.
func (j *Job) Context() session.Context {
	return session.Context{
		JobID:      j.ID,
		Source:     j.Source,
		UploadDir:  j.UploadDir,
		GitHubRepo: j.GitHubRepo,
		Branch:     j.Branch,
	}
}

// Submitter creates jobs against a Backend.
type Submitter struct {
	backend Backend
	history *session.History
	logger  *slog.Logger
	newID   func() string
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithHistory records every submitted job in h.
func WithHistory(h *session.History) Option {
	return func(s *Submitter) { s.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Submitter) { s.logger = l }
}

// New returns a Submitter.
func New(backend Backend, opts ...Option) *Submitter {
	s := &Submitter{
		backend: backend,
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "submit")
	return s
}

// Upload sends files and starts their analysis under a fresh job id.
func (s *Submitter) Upload(ctx context.Context, files []api.UploadFile) (*Job, error) {
	if len(files) == 0 {
		return nil, &api.ValidationError{Field: "files", Message: "no files ready: select files to upload first"}
	}

	up, err := s.backend.Upload(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	s.logger.Info("files uploaded", "count", len(up.Files), "upload_dir", up.UploadDir)

	jobID := s.newID()
	started, err := s.backend.StartAnalysis(ctx, jobID, up.Paths())
	if err != nil {
		return nil, fmt.Errorf("start analysis: %w", err)
	}
	if started.JobID != "" {
		jobID = started.JobID
	}

	job := &Job{
		ID:        jobID,
		Source:    session.SourceUpload,
		UploadDir: up.UploadDir,
		FileCount: len(up.Files),
	}
	total := up.TotalFiles
	if total == 0 {
		total = len(up.Files)
	}
	if err := s.record(job, session.Metadata{
		Source:     session.SourceUpload,
		UploadDir:  up.UploadDir,
		TotalFiles: total,
		FileCount:  len(up.Files),
	}); err != nil {
		return job, err
	}
	return job, nil
}

// Validate checks that repoURL can be analyzed. A repository the backend
// reports as invalid yields the validation together with a
// *api.ValidationError carrying the backend's reason.
func (s *Submitter) Validate(ctx context.Context, repoURL string) (*api.Validation, error) {
	v, err := s.backend.ValidateRepository(ctx, strings.TrimSpace(repoURL))
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		msg := v.Error
		if msg == "" {
			msg = "invalid repository URL"
		}
		return v, &api.ValidationError{Field: "repo_url", Message: msg}
	}
	return v, nil
}

// GitHubRequest selects a repository and branch to analyze.
type GitHubRequest struct {
	RepoURL string
	// Branch defaults to the repository's default branch.
	Branch string
}

// AnalyzeRepository validates the repository and then starts an analysis
// with every agent. Nothing is submitted when validation fails.
func (s *Submitter) AnalyzeRepository(ctx context.Context, in GitHubRequest) (*Job, error) {
	v, err := s.Validate(ctx, in.RepoURL)
	if err != nil {
		return nil, err
	}
	branch := in.Branch
	if branch == "" {
		branch = v.DefaultBranch
	}
	if branch == "" {
		branch = DefaultBranch
	}

	agents := make([]string, len(analysis.Agents))
	for i, a := range analysis.Agents {
		agents[i] = string(a)
	}
	resp, err := s.backend.AnalyzeRepository(ctx, api.GitHubAnalyzeRequest{
		RepoURL:  strings.TrimSpace(in.RepoURL),
		Branch:   branch,
		Agents:   agents,
		Detailed: true,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze repository: %w", err)
	}

	uploadDir := resp.UploadDir
	if uploadDir == "" {
		uploadDir = resp.TempDir
	}
	job := &Job{
		ID:         resp.JobID,
		Source:     session.SourceGitHub,
		UploadDir:  uploadDir,
		GitHubRepo: strings.TrimSpace(in.RepoURL),
		Branch:     branch,
		FileCount:  resp.FilesAnalyzed,
		Repository: v,
	}
	s.logger.Info("repository analysis started", "job", job.ID, "repo", job.GitHubRepo, "branch", branch)
	if err := s.record(job, session.Metadata{
		Source:     session.SourceGitHub,
		UploadDir:  uploadDir,
		GitHubRepo: job.GitHubRepo,
		Branch:     branch,
		TotalFiles: resp.FilesAnalyzed,
	}); err != nil {
		return job, err
	}
	return job, nil
}

// Branches lists the branches of the repository at repoURL.
func (s *Submitter) Branches(ctx context.Context, repoURL string) (*api.BranchesResponse, error) {
	owner, name, err := ParseRepository(repoURL)
	if err != nil {
		return nil, err
	}
	return s.backend.RepositoryBranches(ctx, owner, name)
}

func (s *Submitter) record(job *Job, meta session.Metadata) error {
	if s.history == nil {
		return nil
	}
	sess, err := s.history.Create(job.ID, meta)
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	job.Session = sess
	return nil
}

// ParseRepository extracts owner and name from a GitHub URL in https, ssh
// or owner/name form.
func ParseRepository(repoURL string) (owner, name string, err error) {
	s := strings.TrimSpace(repoURL)
	switch {
	case strings.HasPrefix(s, "git@"):
		_, s, _ = strings.Cut(s, ":")
	case strings.Contains(s, "://"):
		u, perr := url.Parse(s)
		if perr != nil {
			return "", "", &api.ValidationError{Field: "repo_url", Message: perr.Error()}
		}
		s = u.Path
	}
	s = strings.TrimSuffix(strings.Trim(s, "/"), ".git")
	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &api.ValidationError{Field: "repo_url", Message: fmt.Sprintf("cannot parse repository from %q", repoURL)}
	}
	return parts[0], parts[1], nil
}
