package analysis

import "time"

// Score penalty weights per issue.
const (
	WeightSecurity      = 5
	WeightPerformance   = 4
	WeightComplexity    = 3
	WeightDocumentation = 2
	WeightOverall       = 2
)

// Input is everything Transform needs. Now is only read when Partial is set,
// which keeps Transform deterministic for a fixed Input.
type Input struct {
	JobID          string
	Records        []FileAnalysisRecord
	Partial        bool
	CompletionTime string
	GitHubMetadata *GitHubMetadata
	Now            time.Time
}

// Score applies the monotonic penalty formula max(0, 100 - issues*weight).
func Score(issues, weight int) float64 {
	s := 100 - issues*weight
	if s < 0 {
		return 0
	}
	return float64(s)
}

// Transform aggregates per-file records into a NormalizedResult. It has no
// side effects and does not retain Input.Records.
func Transform(in Input) NormalizedResult {
	var (
		totalIssues  int
		severity     SeverityBreakdown
		unrecognized int
		elapsed      float64
	)

	agents := make(map[Agent]int, len(Agents))
	for _, a := range Agents {
		agents[a] = 0
	}

	files := make([]FileResult, 0, len(in.Records))
	for _, rec := range in.Records {
		totalIssues += rec.TotalIssues
		severity.Critical += rec.CriticalIssues
		severity.High += rec.HighIssues
		severity.Medium += rec.MediumIssues
		severity.Low += rec.LowIssues
		elapsed += rec.ProcessingTime

		for key, count := range rec.AgentBreakdown {
			if a := ParseAgent(key); a != AgentUnrecognized {
				agents[a] += count
			} else {
				unrecognized += count
			}
		}

		files = append(files, toFileResult(rec))
	}

	res := NormalizedResult{
		JobID: in.JobID,
		Summary: Summary{
			TotalFiles:         len(in.Records),
			TotalIssues:        totalIssues,
			SeverityBreakdown:  severity,
			AgentBreakdown:     agents,
			UnrecognizedAgents: unrecognized,
			OverallScore:       Score(totalIssues, WeightOverall),
		},
		Metrics: Metrics{
			SecurityScore:      Score(agents[AgentSecurity], WeightSecurity),
			PerformanceScore:   Score(agents[AgentPerformance], WeightPerformance),
			CodeQualityScore:   Score(agents[AgentComplexity], WeightComplexity),
			DocumentationScore: Score(agents[AgentDocumentation], WeightDocumentation),
		},
		Files:          files,
		AnalysisTime:   elapsed,
		Timestamp:      in.CompletionTime,
		GitHubMetadata: in.GitHubMetadata,
	}

	if in.Partial {
		res.Partial = true
		res.LastUpdated = in.Now.UTC()
		if res.Timestamp == "" {
			res.Timestamp = res.LastUpdated.Format(time.RFC3339)
		}
	}
	return res
}

func toFileResult(rec FileAnalysisRecord) FileResult {
	issues := make([]Issue, 0, len(rec.DetailedIssues))
	for _, is := range rec.DetailedIssues {
		issues = append(issues, Issue{
			Title:       is.Title,
			Description: is.Description,
			Severity:    is.Severity,
			Agent:       is.Agent,
			Line:        is.Line,
			Suggestion:  is.Fix,
			File:        is.File,
		})
	}
	return FileResult{
		File:        rec.File,
		Path:        rec.File,
		Language:    rec.Language,
		Lines:       rec.Lines,
		Issues:      issues,
		IssuesCount: rec.TotalIssues,
	}
}
