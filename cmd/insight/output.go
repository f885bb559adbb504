package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/monitor"
	"github.com/jmylchreest/insight/pkg/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	severityStyles = map[analysis.Severity]lipgloss.Style{
		analysis.SevCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		analysis.SevHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		analysis.SevMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		analysis.SevLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}

	levelStyles = map[monitor.Level]lipgloss.Style{
		monitor.LevelSuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		monitor.LevelError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		monitor.LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	}
)

func severityLabel(sev string) string {
	s := analysis.ParseSeverity(sev)
	st, ok := severityStyles[s]
	if !ok {
		return sev
	}
	return st.Render(strings.ToUpper(string(s)))
}

// terminalNotifier prints user-facing notices to w.
func terminalNotifier(w io.Writer) monitor.Notifier {
	return monitor.NotifierFunc(func(level monitor.Level, title, message string) {
		st, ok := levelStyles[level]
		if !ok {
			st = lipgloss.NewStyle()
		}
		if message == "" {
			fmt.Fprintln(w, st.Render(title))
			return
		}
		fmt.Fprintf(w, "%s %s\n", st.Render(title), message)
	})
}

// follow tracks a job until it reaches a terminal state, printing progress
// to stderr. Interrupting stops the monitor; the job keeps running on the
// backend and can be resumed with 'insight monitor'.
func follow(ctx context.Context, a *app, base session.Context) (monitor.Snapshot, error) {
	mon := a.newMonitor(base, terminalNotifier(a.stderr))
	if err := mon.Start(ctx, base.JobID); err != nil {
		return monitor.Snapshot{}, err
	}
	defer mon.Stop()

	updates, unsubscribe := mon.Subscribe()
	defer unsubscribe()

	var last string
	for {
		select {
		case s := <-updates:
			if line := progressLine(s); line != last {
				fmt.Fprintln(a.stderr, dimStyle.Render(line))
				last = line
			}
		case <-mon.Done():
			return mon.Snapshot(), nil
		case <-ctx.Done():
			fmt.Fprintf(a.stderr, "Stopped following %s; resume with 'insight monitor %s'\n", base.JobID, base.JobID)
			return mon.Snapshot(), ctx.Err()
		}
	}
}

// finish prints the outcome of a followed job.
func finish(a *app, s monitor.Snapshot) error {
	switch s.Phase {
	case monitor.PhaseCompleted:
		writeSummary(a.stdout, s.Result)
		return nil
	case monitor.PhaseFailed:
		if s.Err != "" {
			return fmt.Errorf("analysis %s failed: %s", s.JobID, s.Err)
		}
		return fmt.Errorf("analysis %s failed", s.JobID)
	}
	return nil
}

func writeSummary(w io.Writer, res *analysis.NormalizedResult) {
	if res == nil {
		fmt.Fprintln(w, "No results available yet.")
		return
	}
	title := "Analysis results"
	if res.Partial {
		title = "Partial results"
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	s := res.Summary
	fmt.Fprintf(w, "%d files, %d issues, overall score %.0f\n", s.TotalFiles, s.TotalIssues, s.OverallScore)
	if gh := res.GitHubMetadata; gh != nil && gh.RepoURL != "" {
		fmt.Fprintf(w, "%s %s\n", gh.RepoURL, dimStyle.Render(gh.Branch))
	}
	fmt.Fprintln(w)

	sev := tablewriter.NewWriter(w)
	sev.Header("Severity", "Issues")
	sev.Append(severityLabel("critical"), strconv.Itoa(s.SeverityBreakdown.Critical))
	sev.Append(severityLabel("high"), strconv.Itoa(s.SeverityBreakdown.High))
	sev.Append(severityLabel("medium"), strconv.Itoa(s.SeverityBreakdown.Medium))
	sev.Append(severityLabel("low"), strconv.Itoa(s.SeverityBreakdown.Low))
	sev.Render()

	scores := tablewriter.NewWriter(w)
	scores.Header("Agent", "Issues", "Score")
	m := res.Metrics
	agentScore := map[analysis.Agent]float64{
		analysis.AgentSecurity:      m.SecurityScore,
		analysis.AgentPerformance:   m.PerformanceScore,
		analysis.AgentComplexity:    m.CodeQualityScore,
		analysis.AgentDocumentation: m.DocumentationScore,
	}
	for _, ag := range analysis.Agents {
		scores.Append(string(ag), strconv.Itoa(s.AgentBreakdown[ag]), fmt.Sprintf("%.0f", agentScore[ag]))
	}
	if s.UnrecognizedAgents > 0 {
		scores.Append("other", strconv.Itoa(s.UnrecognizedAgents), "-")
	}
	scores.Render()
}

func writeFileTable(w io.Writer, files []analysis.FileResult) {
	t := tablewriter.NewWriter(w)
	t.Header("File", "Language", "Lines", "Issues")
	for _, f := range files {
		t.Append(f.File, f.Language, strconv.Itoa(f.Lines), strconv.Itoa(f.IssuesCount))
	}
	t.Render()
}

func writeIssueTable(w io.Writer, issues []analysis.DisplayIssue) {
	t := tablewriter.NewWriter(w)
	t.Header("Severity", "Agent", "Location", "Title")
	for _, is := range issues {
		t.Append(severityLabel(is.Severity), is.Agent, fmt.Sprintf("%s:%d", is.File, is.Line), truncate(is.Title, 70))
	}
	t.Render()
}

func writePoints(w io.Writer, title string, points []analysis.Point) {
	fmt.Fprintln(w, titleStyle.Render(title))
	t := tablewriter.NewWriter(w)
	t.Header("Name", "Value")
	for _, p := range points {
		t.Append(p.Name, strconv.FormatFloat(p.Value, 'f', -1, 64))
	}
	t.Render()
}

func writeSessionTable(w io.Writer, sessions []session.Session, current string) {
	t := tablewriter.NewWriter(w)
	t.Header("", "Slug", "Job", "Source", "Target", "Status", "Progress", "Created")
	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		marker := ""
		if s.Slug == current {
			marker = "*"
		}
		target := s.Metadata.GitHubRepo
		if target == "" {
			target = fmt.Sprintf("%d files", s.Metadata.FileCount)
		}
		t.Append(marker, s.Slug, s.JobID, string(s.Metadata.Source), target, string(s.Status),
			fmt.Sprintf("%.0f%%", s.Progress), s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	t.Render()
}

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string, plain bool) string {
	if plain {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out) + "\n"
}
