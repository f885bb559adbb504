// Package analysis defines the job, record and result types exchanged with the
// analysis backend, and the pure transformation from raw per-file records into
// the normalized view model rendered by the dashboard.
package analysis

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a backend analysis job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobState is the payload of GET /api/status/{job_id}.
type JobState struct {
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	Progress       float64   `json:"progress"`
	Message        string    `json:"message"`
	StartTime      string    `json:"start_time,omitempty"`
	CompletionTime string    `json:"completion_time,omitempty"`
}

// Severity of a single issue. Ordinal: critical is highest.
type Severity string

const (
	SevCritical Severity = "critical"
	SevHigh     Severity = "high"
	SevMedium   Severity = "medium"
	SevLow      Severity = "low"
)

// Severities lists the known severities, highest first.
var Severities = []Severity{SevCritical, SevHigh, SevMedium, SevLow}

// ParseSeverity normalizes a backend severity string. Unknown values are
// returned lower-cased as-is and rank 0.
func ParseSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}

// Rank returns critical=4, high=3, medium=2, low=1, unknown=0.
func (s Severity) Rank() int {
	switch ParseSeverity(string(s)) {
	case SevCritical:
		return 4
	case SevHigh:
		return 3
	case SevMedium:
		return 2
	case SevLow:
		return 1
	default:
		return 0
	}
}

// Agent is a named analysis dimension on the backend.
type Agent string

const (
	AgentSecurity      Agent = "security"
	AgentPerformance   Agent = "performance"
	AgentComplexity    Agent = "complexity"
	AgentDocumentation Agent = "documentation"

	// AgentUnrecognized collects breakdown keys outside the fixed set.
	AgentUnrecognized Agent = "unrecognized"
)

// Agents is the fixed set of recognized agents, in display order.
var Agents = []Agent{AgentSecurity, AgentPerformance, AgentComplexity, AgentDocumentation}

// ParseAgent maps a backend agent key onto the fixed set. Matching is
// case-insensitive; anything else is AgentUnrecognized.
func ParseAgent(s string) Agent {
	switch a := Agent(strings.ToLower(strings.TrimSpace(s))); a {
	case AgentSecurity, AgentPerformance, AgentComplexity, AgentDocumentation:
		return a
	default:
		return AgentUnrecognized
	}
}

// IssueRecord is one finding as reported by the backend.
type IssueRecord struct {
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Agent       string `json:"agent"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	Fix         string `json:"fix"`
}

// AgentRun is a per-agent execution summary for one file.
type AgentRun struct {
	Agent      string  `json:"agent"`
	Issues     int     `json:"issues"`
	Time       float64 `json:"time"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
}

// FileAnalysisRecord is one file's completed analysis. Records are immutable
// once received.
type FileAnalysisRecord struct {
	File            string   `json:"file"`
	Language        string   `json:"language"`
	Lines           int      `json:"lines"`
	TotalIssues     int      `json:"total_issues"`
	ProcessingTime  float64  `json:"processing_time"`
	TokensUsed      int      `json:"tokens_used"`
	APICalls        int      `json:"api_calls"`
	CompletedAgents []string `json:"completed_agents,omitempty"`

	CriticalIssues int `json:"critical_issues"`
	HighIssues     int `json:"high_issues"`
	MediumIssues   int `json:"medium_issues"`
	LowIssues      int `json:"low_issues"`

	AgentPerformance []AgentRun     `json:"agent_performance,omitempty"`
	AgentBreakdown   map[string]int     `json:"agent_breakdown,omitempty"`

	DetailedIssues []IssueRecord `json:"detailed_issues"`

	Timestamp string `json:"timestamp,omitempty"`
	JobID     string `json:"job_id,omitempty"`
}

// RepoStats summarizes a cloned GitHub repository.
type RepoStats struct {
	TotalFiles        int                      `json:"total_files"`
	TotalLines        int                      `json:"total_lines"`
	TotalSizeBytes    int64                    `json:"total_size_bytes"`
	LanguageBreakdown map[string]LanguageStats `json:"language_breakdown,omitempty"`
}

// LanguageStats is one entry of RepoStats.LanguageBreakdown.
type LanguageStats struct {
	Files int `json:"files"`
	Lines int `json:"lines"`
}

// GitHubMetadata accompanies results for repository analyses.
type GitHubMetadata struct {
	RepoURL      string     `json:"repo_url,omitempty"`
	Branch       string     `json:"branch,omitempty"`
	Stats        *RepoStats `json:"stats,omitempty"`
	AnalysisType string     `json:"analysis_type,omitempty"`
	TempDir      string     `json:"temp_dir,omitempty"`
}

// SeverityBreakdown counts issues per severity.
type SeverityBreakdown struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the sum of all buckets.
func (b SeverityBreakdown) Total() int {
	return b.Critical + b.High + b.Medium + b.Low
}

// Summary is the aggregate section of a NormalizedResult.
type Summary struct {
	TotalFiles        int               `json:"total_files"`
	TotalIssues       int               `json:"total_issues"`
	SeverityBreakdown SeverityBreakdown `json:"severity_breakdown"`
	// AgentBreakdown always holds exactly the keys in Agents.
	AgentBreakdown map[Agent]int `json:"agent_breakdown"`
	// UnrecognizedAgents counts breakdown entries whose agent key is not in
	// Agents. Those issues still count towards TotalIssues.
	UnrecognizedAgents int     `json:"unrecognized_agents"`
	OverallScore       float64 `json:"overall_score"`
}

// Metrics holds the derived per-dimension quality scores.
type Metrics struct {
	SecurityScore      float64 `json:"security_score"`
	PerformanceScore   float64 `json:"performance_score"`
	CodeQualityScore   float64 `json:"code_quality_score"`
	DocumentationScore float64 `json:"documentation_score"`
}

// Issue is a display copy of an IssueRecord.
type Issue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Agent       string `json:"agent"`
	Line        int    `json:"line"`
	Suggestion  string `json:"suggestion"`
	File        string `json:"file,omitempty"`
}

// FileResult is one file in the flattened file list.
type FileResult struct {
	File        string  `json:"file"`
	Path        string  `json:"path"`
	Language    string  `json:"language"`
	Lines       int     `json:"lines"`
	Issues      []Issue `json:"issues"`
	IssuesCount int     `json:"issues_count"`
}

// NormalizedResult is the UI-ready view of a job's records.
type NormalizedResult struct {
	JobID          string          `json:"job_id"`
	Summary        Summary         `json:"summary"`
	Metrics        Metrics         `json:"metrics"`
	Files          []FileResult    `json:"files"`
	AnalysisTime   float64         `json:"analysis_time"`
	Timestamp      string          `json:"timestamp,omitempty"`
	GitHubMetadata *GitHubMetadata `json:"github_metadata,omitempty"`
	Partial        bool            `json:"is_partial,omitempty"`
	LastUpdated    time.Time       `json:"last_updated,omitzero"`
}
