package api

import (
	"time"

	"github.com/jmylchreest/insight/pkg/analysis"
)

// UploadedFile describes one file accepted by the upload endpoint.
type UploadedFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	Success    bool           `json:"success"`
	Files      []UploadedFile `json:"files"`
	UploadDir  string         `json:"upload_dir"`
	TotalFiles int            `json:"total_files"`
}

// Paths returns the server-side paths of the uploaded files.
func (r *UploadResponse) Paths() []string {
	out := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		out = append(out, f.Path)
	}
	return out
}

// AnalyzeRequest is the body of POST /api/analyze/{job_id}.
type AnalyzeRequest struct {
	FilePaths   []string `json:"file_paths"`
	Detailed    bool     `json:"detailed"`
	RAG         bool     `json:"rag"`
	Progressive bool     `json:"progressive"`
}

// AnalyzeResponse is returned by POST /api/analyze/{job_id}.
type AnalyzeResponse struct {
	Success      bool   `json:"success"`
	JobID        string `json:"job_id"`
	Progressive  bool   `json:"progressive,omitempty"`
	ResultsCount int    `json:"results_count,omitempty"`
}

// Validation is returned by POST /api/github/validate.
type Validation struct {
	Valid         bool     `json:"valid"`
	Owner         string   `json:"owner,omitempty"`
	RepoName      string   `json:"repo_name,omitempty"`
	FullName      string   `json:"full_name,omitempty"`
	Description   string   `json:"description,omitempty"`
	Language      string   `json:"language,omitempty"`
	SizeKB        int      `json:"size_kb,omitempty"`
	Stars         int      `json:"stars,omitempty"`
	Forks         int      `json:"forks,omitempty"`
	OpenIssues    int      `json:"open_issues,omitempty"`
	DefaultBranch string   `json:"default_branch,omitempty"`
	LastUpdate    string   `json:"last_update,omitempty"`
	IsPrivate     bool     `json:"is_private,omitempty"`
	IsFork        bool     `json:"is_fork,omitempty"`
	Branches      []string `json:"branches,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// BranchesResponse is returned by GET /api/github/branches/{owner}/{repo}.
type BranchesResponse struct {
	Success       bool     `json:"success"`
	Branches      []string `json:"branches"`
	DefaultBranch string   `json:"default_branch"`
	Error         string   `json:"error,omitempty"`
}

// GitHubAnalyzeRequest is the body of POST /api/github/analyze.
type GitHubAnalyzeRequest struct {
	RepoURL     string   `json:"repo_url"`
	Branch      string   `json:"branch"`
	Agents      []string `json:"agents"`
	Detailed    bool     `json:"detailed"`
	Progressive bool     `json:"progressive"`
}

// GitHubAnalysisResponse is returned by POST /api/github/analyze.
type GitHubAnalysisResponse struct {
	Success       bool               `json:"success"`
	JobID         string             `json:"job_id"`
	RepoURL       string             `json:"repo_url"`
	Branch        string             `json:"branch"`
	FilesAnalyzed int                `json:"files_analyzed"`
	RepoStats     analysis.RepoStats `json:"repo_stats"`
	TempDir       string             `json:"temp_dir,omitempty"`
	UploadDir     string             `json:"upload_dir,omitempty"`
	Progressive   bool               `json:"progressive,omitempty"`
}

// PartialResults is returned by GET /api/partial-results/{job_id}.
type PartialResults struct {
	Success        bool                          `json:"success"`
	Partial        bool                          `json:"partial"`
	CompletedFiles int                           `json:"completed_files"`
	TotalFiles     int                           `json:"total_files"`
	Progress       float64                       `json:"progress"`
	JobID          string                        `json:"job_id"`
	Results        []analysis.FileAnalysisRecord `json:"results"`
	GitHubMetadata *analysis.GitHubMetadata      `json:"github_metadata,omitempty"`
}

// Normalize transforms the partial set, stamped with now. It returns nil
// when no file has completed yet.
func (p *PartialResults) Normalize(now time.Time) *analysis.NormalizedResult {
	if p == nil || len(p.Results) == 0 {
		return nil
	}
	res := analysis.Transform(analysis.Input{
		JobID:          p.JobID,
		Records:        p.Results,
		Partial:        true,
		GitHubMetadata: p.GitHubMetadata,
		Now:            now,
	})
	return &res
}

// Results is returned by GET /api/results/{job_id}.
type Results struct {
	Success        bool                          `json:"success"`
	JobID          string                        `json:"job_id"`
	Results        []analysis.FileAnalysisRecord `json:"results"`
	TotalFiles     int                           `json:"total_files"`
	CompletionTime string                        `json:"completion_time"`
	GitHubMetadata *analysis.GitHubMetadata      `json:"github_metadata,omitempty"`
}

// Normalize transforms the authoritative final set.
func (r *Results) Normalize() *analysis.NormalizedResult {
	res := analysis.Transform(analysis.Input{
		JobID:          r.JobID,
		Records:        r.Results,
		CompletionTime: r.CompletionTime,
		GitHubMetadata: r.GitHubMetadata,
	})
	return &res
}

// ChatStartRequest is the body of POST /api/chat/start.
type ChatStartRequest struct {
	UploadDir  string `json:"upload_dir"`
	GitHubRepo string `json:"github_repo"`
	Branch     string `json:"branch"`
}

// CodebaseInfo describes what a chat session is grounded on.
type CodebaseInfo struct {
	Path       string `json:"path"`
	Status     string `json:"status"`
	Context    string `json:"context,omitempty"`
	GitHubRepo string `json:"github_repo,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

// ChatSession is returned by POST /api/chat/start.
type ChatSession struct {
	Success      bool         `json:"success"`
	SessionID    string       `json:"session_id"`
	Message      string       `json:"message"`
	CodebaseInfo CodebaseInfo `json:"codebase_info"`
}

// ChatReply is the assistant's answer inside a ChatResponse.
type ChatReply struct {
	Content             string   `json:"content"`
	Confidence          float64  `json:"confidence"`
	Source              string   `json:"source"`
	ProcessingTime      float64  `json:"processing_time"`
	FollowUpSuggestions []string `json:"follow_up_suggestions"`
	RelatedFiles        []string `json:"related_files"`
}

// ChatResponse is returned by POST /api/chat/message.
type ChatResponse struct {
	Success   bool      `json:"success"`
	Response  ChatReply `json:"response"`
	Timestamp string    `json:"timestamp"`
}

// CleanupResponse is returned by DELETE /api/github/cleanup/{job_id}.
type CleanupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
