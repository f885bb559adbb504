package analysis

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Point is one labelled value in a chart series.
type Point struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FileStats describes how issues are distributed over files.
type FileStats struct {
	Files      int     `json:"files"`
	MeanIssues float64 `json:"mean_issues"`
	StdDev     float64 `json:"std_dev"`
	MaxIssues  int     `json:"max_issues"`
	MaxFile    string  `json:"max_file,omitempty"`
	// IssuesPerKLOC is total issues per thousand analysed lines.
	IssuesPerKLOC float64 `json:"issues_per_kloc"`
}

// Charts is the data behind the dashboard's charts.
type Charts struct {
	Severity  []Point   `json:"severity"`
	Metrics   []Point   `json:"metrics"`
	Agents    []Point   `json:"agents"`
	Languages []Point   `json:"languages"`
	Files     FileStats `json:"files"`
}

// BuildCharts derives chart series from a result. A nil result yields empty
// series rather than placeholder values.
func BuildCharts(res *NormalizedResult) Charts {
	if res == nil {
		return Charts{}
	}
	sb := res.Summary.SeverityBreakdown
	c := Charts{
		Severity: []Point{
			{Name: "Critical", Value: float64(sb.Critical)},
			{Name: "High", Value: float64(sb.High)},
			{Name: "Medium", Value: float64(sb.Medium)},
			{Name: "Low", Value: float64(sb.Low)},
		},
		Metrics: []Point{
			{Name: "Security", Value: res.Metrics.SecurityScore},
			{Name: "Performance", Value: res.Metrics.PerformanceScore},
			{Name: "Quality", Value: res.Metrics.CodeQualityScore},
			{Name: "Documentation", Value: res.Metrics.DocumentationScore},
		},
	}
	for _, a := range Agents {
		c.Agents = append(c.Agents, Point{Name: titleWord(string(a)), Value: float64(res.Summary.AgentBreakdown[a])})
	}

	langs := make(map[string]int)
	for _, f := range res.Files {
		lang := f.Language
		if lang == "" {
			lang = "unknown"
		}
		langs[lang]++
	}
	for name, n := range langs {
		c.Languages = append(c.Languages, Point{Name: name, Value: float64(n)})
	}
	sort.Slice(c.Languages, func(i, j int) bool {
		if c.Languages[i].Value != c.Languages[j].Value {
			return c.Languages[i].Value > c.Languages[j].Value
		}
		return c.Languages[i].Name < c.Languages[j].Name
	})

	c.Files = fileStats(res.Files)
	return c
}

func fileStats(files []FileResult) FileStats {
	fs := FileStats{Files: len(files)}
	if len(files) == 0 {
		return fs
	}
	counts := make([]float64, len(files))
	var lines, total int
	for i, f := range files {
		counts[i] = float64(f.IssuesCount)
		lines += f.Lines
		total += f.IssuesCount
		if f.IssuesCount > fs.MaxIssues {
			fs.MaxIssues = f.IssuesCount
			fs.MaxFile = f.File
		}
	}
	fs.MeanIssues, fs.StdDev = stat.PopMeanStdDev(counts, nil)
	if lines > 0 {
		fs.IssuesPerKLOC = float64(total) * 1000 / float64(lines)
	}
	return fs
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
