package analysis

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DefaultIssuesPerPage is the dashboard's default page size.
const DefaultIssuesPerPage = 20

// DisplayIssue is a flattened issue tagged with its source file and a stable
// identifier derived from file, position within the file and line.
type DisplayIssue struct {
	Issue
	ID string `json:"id"`
}

// IssueFilter selects issues for display. Empty fields (or "all") match
// everything.
type IssueFilter struct {
	Agent    string
	File     string
	Severity string
	Search   string
}

// FlattenIssues returns every issue of every file in input order. The File
// field is always the owning file, regardless of what the backend put on the
// issue itself.
func FlattenIssues(res *NormalizedResult) []DisplayIssue {
	if res == nil {
		return nil
	}
	var out []DisplayIssue
	for _, f := range res.Files {
		for i, is := range f.Issues {
			is.File = f.File
			out = append(out, DisplayIssue{
				Issue: is,
				ID:    IssueID(f.File, i, is.Line),
			})
		}
	}
	return out
}

// IssueID builds the stable display identifier for an issue.
func IssueID(file string, index, line int) string {
	return fmt.Sprintf("%s-%d-%d", file, index, line)
}

// FilterIssues applies f and returns the matches sorted by severity
// (highest first) then file name.
func FilterIssues(issues []DisplayIssue, f IssueFilter) []DisplayIssue {
	agent := normalizeFilter(f.Agent)
	severity := normalizeFilter(f.Severity)
	file := f.File
	if file == "all" {
		file = ""
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]DisplayIssue, 0, len(issues))
	for _, is := range issues {
		if agent != "" && strings.ToLower(is.Agent) != agent {
			continue
		}
		if file != "" && is.File != file {
			continue
		}
		if severity != "" && strings.ToLower(is.Severity) != severity {
			continue
		}
		if term != "" && !matchesTerm(is, term) {
			continue
		}
		out = append(out, is)
	}
	SortIssues(out)
	return out
}

// SortIssues orders issues by severity rank descending, then by file.
// Ties keep their input order.
func SortIssues(issues []DisplayIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		ri, rj := Severity(issues[i].Severity).Rank(), Severity(issues[j].Severity).Rank()
		if ri != rj {
			return ri > rj
		}
		return issues[i].File < issues[j].File
	})
}

// Page is one page of issues.
type Page struct {
	Issues     []DisplayIssue `json:"issues"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// Paginate returns the 1-indexed page of issues. Out of range pages are
// clamped.
func Paginate(issues []DisplayIssue, page, perPage int) Page {
	if perPage <= 0 {
		perPage = DefaultIssuesPerPage
	}
	totalPages := (len(issues) + perPage - 1) / perPage
	if page < 1 {
		page = 1
	}
	if totalPages > 0 && page > totalPages {
		page = totalPages
	}
	start := (page - 1) * perPage
	end := min(start+perPage, len(issues))
	if start > end {
		start = end
	}
	return Page{
		Issues:     issues[start:end],
		Page:       page,
		PerPage:    perPage,
		Total:      len(issues),
		TotalPages: totalPages,
	}
}

// UniqueFiles returns the sorted set of file names in res.
func UniqueFiles(res *NormalizedResult) []string {
	if res == nil {
		return nil
	}
	seen := make(map[string]bool, len(res.Files))
	var out []string
	for _, f := range res.Files {
		if !seen[f.File] {
			seen[f.File] = true
			out = append(out, f.File)
		}
	}
	slices.Sort(out)
	return out
}

func normalizeFilter(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return ""
	}
	return s
}

func matchesTerm(is DisplayIssue, term string) bool {
	return strings.Contains(strings.ToLower(is.Title), term) ||
		strings.Contains(strings.ToLower(is.Description), term) ||
		strings.Contains(strings.ToLower(is.Suggestion), term) ||
		strings.Contains(strings.ToLower(is.File), term)
}
