package analysis

import (
	"math"
	"testing"
)

func sampleResult() *NormalizedResult {
	return &NormalizedResult{
		Files: []FileResult{
			{
				File: "b.py", Language: "python", Lines: 200, IssuesCount: 2,
				Issues: []Issue{
					{Title: "Slow loop", Severity: "medium", Agent: "performance", Line: 10, Suggestion: "use a set"},
					{Title: "SQL injection", Severity: "critical", Agent: "security", Line: 42, Description: "raw query"},
				},
			},
			{
				File: "a.py", Language: "python", Lines: 100, IssuesCount: 1,
				Issues: []Issue{
					{Title: "Missing docstring", Severity: "low", Agent: "Documentation", Line: 1, File: "elsewhere.py"},
				},
			},
			{File: "c.go", Language: "go", Lines: 0, IssuesCount: 0},
		},
	}
}

func TestFlattenIssuesStableIDs(t *testing.T) {
	issues := FlattenIssues(sampleResult())
	if len(issues) != 3 {
		t.Fatalf("got %d issues, want 3", len(issues))
	}
	if issues[1].ID != "b.py-1-42" {
		t.Errorf("id = %q, want b.py-1-42", issues[1].ID)
	}
	if issues[2].File != "a.py" {
		t.Errorf("flattened issue should reference its owning file, got %q", issues[2].File)
	}
}

func TestFilterIssues(t *testing.T) {
	all := FlattenIssues(sampleResult())

	tests := []struct {
		name   string
		filter IssueFilter
		want   []string
	}{
		{"all sorted by severity", IssueFilter{Agent: "all", Severity: "all", File: "all"}, []string{"SQL injection", "Slow loop", "Missing docstring"}},
		{"agent case-insensitive", IssueFilter{Agent: "documentation"}, []string{"Missing docstring"}},
		{"by file", IssueFilter{File: "b.py"}, []string{"SQL injection", "Slow loop"}},
		{"by severity", IssueFilter{Severity: "CRITICAL"}, []string{"SQL injection"}},
		{"search suggestion", IssueFilter{Search: "SET"}, []string{"Slow loop"}},
		{"search file", IssueFilter{Search: "a.py"}, []string{"Missing docstring"}},
		{"no match", IssueFilter{Search: "nothing"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterIssues(all, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d issues, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Title != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i].Title, tt.want[i])
				}
			}
		})
	}
}

func TestPaginate(t *testing.T) {
	issues := make([]DisplayIssue, 45)
	p := Paginate(issues, 3, 20)
	if p.TotalPages != 3 || len(p.Issues) != 5 {
		t.Errorf("page 3: totalPages=%d len=%d", p.TotalPages, len(p.Issues))
	}
	p = Paginate(issues, 9, 20)
	if p.Page != 3 {
		t.Errorf("out of range page should clamp to 3, got %d", p.Page)
	}
	p = Paginate(nil, 1, 0)
	if p.PerPage != DefaultIssuesPerPage || len(p.Issues) != 0 || p.TotalPages != 0 {
		t.Errorf("empty paginate = %+v", p)
	}
}

func TestUniqueFiles(t *testing.T) {
	got := UniqueFiles(sampleResult())
	want := []string{"a.py", "b.py", "c.go"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildCharts(t *testing.T) {
	res := sampleResult()
	res.Summary.AgentBreakdown = map[Agent]int{AgentSecurity: 1}
	c := BuildCharts(res)

	if len(c.Agents) != len(Agents) || c.Agents[0].Name != "Security" || c.Agents[0].Value != 1 {
		t.Errorf("agents = %+v", c.Agents)
	}
	if c.Languages[0].Name != "python" || c.Languages[0].Value != 2 {
		t.Errorf("languages = %+v", c.Languages)
	}
	if c.Files.MaxIssues != 2 || c.Files.MaxFile != "b.py" {
		t.Errorf("file stats = %+v", c.Files)
	}
	if math.Abs(c.Files.MeanIssues-1) > 1e-9 {
		t.Errorf("mean = %v, want 1", c.Files.MeanIssues)
	}
	if math.Abs(c.Files.IssuesPerKLOC-10) > 1e-9 {
		t.Errorf("issues/kloc = %v, want 10", c.Files.IssuesPerKLOC)
	}

	if empty := BuildCharts(nil); len(empty.Severity) != 0 {
		t.Error("nil result should give empty charts")
	}
}
