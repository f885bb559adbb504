package main

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/monitor"
	"github.com/jmylchreest/insight/pkg/search"
)

// progressLine is the one-line progress report printed while following a
// job.
func progressLine(s monitor.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%3.0f%%] %-9s", s.Progress, s.Phase)
	if s.TotalFiles > 0 {
		fmt.Fprintf(&b, " %d/%d files", s.CompletedFiles, s.TotalFiles)
	}
	if s.Result != nil && s.Result.Partial {
		fmt.Fprintf(&b, " %d issues so far", s.Result.Summary.TotalIssues)
	}
	if s.Message != "" {
		b.WriteString("  " + s.Message)
	}
	return b.String()
}

func formatStatusMarkdown(s monitor.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Analysis %s\n\n", s.JobID)
	fmt.Fprintf(&sb, "- **Phase:** %s\n", s.Phase)
	if s.Status != "" {
		fmt.Fprintf(&sb, "- **Status:** %s\n", s.Status)
	}
	fmt.Fprintf(&sb, "- **Progress:** %.0f%%\n", s.Progress)
	if s.TotalFiles > 0 {
		fmt.Fprintf(&sb, "- **Files:** %d/%d\n", s.CompletedFiles, s.TotalFiles)
	}
	if s.Message != "" {
		fmt.Fprintf(&sb, "- **Message:** %s\n", s.Message)
	}
	if s.Err != "" {
		fmt.Fprintf(&sb, "- **Error:** %s\n", s.Err)
	}
	return sb.String()
}

// formatResultMarkdown summarizes a result for chat-style consumers.
func formatResultMarkdown(res *analysis.NormalizedResult) string {
	if res == nil {
		return "No results available yet."
	}
	var sb strings.Builder
	title := "Analysis results"
	if res.Partial {
		title = "Partial analysis results"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if res.JobID != "" {
		fmt.Fprintf(&sb, "_Job %s_\n\n", res.JobID)
	}
	if gh := res.GitHubMetadata; gh != nil && gh.RepoURL != "" {
		fmt.Fprintf(&sb, "Repository: %s", gh.RepoURL)
		if gh.Branch != "" {
			fmt.Fprintf(&sb, " (%s)", gh.Branch)
		}
		sb.WriteString("\n\n")
	}

	s := res.Summary
	fmt.Fprintf(&sb, "**%d files, %d issues, overall score %.0f**\n\n", s.TotalFiles, s.TotalIssues, s.OverallScore)

	sb.WriteString("| Severity | Issues |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Critical | %d |\n| High | %d |\n| Medium | %d |\n| Low | %d |\n\n",
		s.SeverityBreakdown.Critical, s.SeverityBreakdown.High, s.SeverityBreakdown.Medium, s.SeverityBreakdown.Low)

	sb.WriteString("| Agent | Issues |\n|---|---|\n")
	for _, a := range analysis.Agents {
		fmt.Fprintf(&sb, "| %s | %d |\n", a, s.AgentBreakdown[a])
	}
	if s.UnrecognizedAgents > 0 {
		fmt.Fprintf(&sb, "| other | %d |\n", s.UnrecognizedAgents)
	}

	m := res.Metrics
	fmt.Fprintf(&sb, "\n## Scores\n\n- Security: %.0f\n- Performance: %.0f\n- Code quality: %.0f\n- Documentation: %.0f\n",
		m.SecurityScore, m.PerformanceScore, m.CodeQualityScore, m.DocumentationScore)
	return sb.String()
}

func formatIssuesMarkdown(page analysis.Page) string {
	if page.Total == 0 {
		return "No issues match."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Issues (page %d of %d, %d total)\n\n", page.Page, page.TotalPages, page.Total)
	for _, is := range page.Issues {
		fmt.Fprintf(&sb, "- **[%s]** `%s:%d` %s _(%s)_\n", strings.ToUpper(is.Severity), is.File, is.Line, is.Title, is.Agent)
		if is.Suggestion != "" {
			fmt.Fprintf(&sb, "  - Suggestion: %s\n", is.Suggestion)
		}
	}
	return sb.String()
}

// hitIssues unwraps search hits, keeping ranking order.
func hitIssues(hits []search.Hit) []analysis.DisplayIssue {
	out := make([]analysis.DisplayIssue, len(hits))
	for i, h := range hits {
		out[i] = h.Issue
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// snapshotFromState describes a one-off status response the way a monitor
// snapshot would.
func snapshotFromState(st *analysis.JobState) monitor.Snapshot {
	s := monitor.Snapshot{
		JobID:     st.JobID,
		Phase:     monitor.PhaseChecking,
		Status:    st.Status,
		Progress:  st.Progress,
		Message:   st.Message,
		Analyzing: !st.Status.IsTerminal(),
	}
	switch st.Status {
	case analysis.StatusCompleted:
		s.Phase = monitor.PhaseCompleted
		s.Progress = 100
	case analysis.StatusFailed:
		s.Phase = monitor.PhaseFailed
		s.Err = st.Message
	}
	return s
}
