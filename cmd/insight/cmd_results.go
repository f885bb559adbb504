package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/search"
	"github.com/jmylchreest/insight/pkg/session"
)

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:      "monitor",
		Usage:     "Follow a running analysis until it finishes",
		ArgsUsage: "[job-id]",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			base, err := a.resolveJob(cmd.Args().First())
			if err != nil {
				return err
			}
			snap, err := follow(ctx, a, base)
			if err != nil {
				return err
			}
			return finish(a, snap)
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a job's backend status",
		ArgsUsage: "[job-id]",
		Flags:     []cli.Flag{jsonFlag()},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			base, err := a.resolveJob(cmd.Args().First())
			if err != nil {
				return err
			}
			st, err := a.client.Status(ctx, base.JobID)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(a.stdout, st)
			}
			fmt.Fprintf(a.stdout, "%s  %s  %.0f%%\n", titleStyle.Render(st.JobID), st.Status, st.Progress)
			if st.Message != "" {
				fmt.Fprintln(a.stdout, st.Message)
			}
			if st.CompletionTime != "" {
				fmt.Fprintln(a.stdout, dimStyle.Render("completed "+st.CompletionTime))
			}
			return nil
		}),
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "print JSON instead of tables"}
}

func refreshFlag() cli.Flag {
	return &cli.BoolFlag{Name: "refresh", Aliases: []string{"r"}, Usage: "re-fetch from the backend instead of using cached results"}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadResult returns the best available result for a job: the cached
// dashboard result unless refresh is set, otherwise the final result once
// the job has completed or the partial set while it runs. Completed results
// are persisted.
func loadResult(ctx context.Context, a *app, jobID string, refresh bool) (*analysis.NormalizedResult, error) {
	base, err := a.resolveJob(jobID)
	if err != nil {
		return nil, err
	}
	if base.Result != nil && !base.Result.Partial && !refresh {
		return base.Result, nil
	}

	st, err := a.client.Status(ctx, base.JobID)
	if err != nil {
		if base.Result != nil {
			a.logger.Warn("status unavailable, using cached results", "job_id", base.JobID, "error", err)
			return base.Result, nil
		}
		return nil, err
	}

	switch st.Status {
	case analysis.StatusCompleted:
		res, err := a.client.FinalResult(ctx, base.JobID)
		if err != nil {
			return nil, err
		}
		rec := &session.Recorder{Contexts: a.contexts, History: a.history, Base: base}
		if err := rec.RecordCompleted(base.JobID, res); err != nil {
			a.logger.Warn("persist results", "job_id", base.JobID, "error", err)
		}
		return res, nil
	case analysis.StatusFailed:
		return nil, fmt.Errorf("analysis %s failed: %s", base.JobID, st.Message)
	}

	p, err := a.client.PartialResults(ctx, base.JobID)
	if err != nil {
		return nil, err
	}
	return p.Normalize(time.Now()), nil
}

func resultsCommand() *cli.Command {
	return &cli.Command{
		Name:      "results",
		Usage:     "Show the summary, scores and files of an analysis",
		ArgsUsage: "[job-id]",
		Flags: []cli.Flag{
			jsonFlag(),
			refreshFlag(),
			&cli.BoolFlag{Name: "files", Usage: "also list analyzed files"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			res, err := loadResult(ctx, a, cmd.Args().First(), cmd.Bool("refresh"))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(a.stdout, res)
			}
			writeSummary(a.stdout, res)
			if res != nil && cmd.Bool("files") {
				writeFileTable(a.stdout, res.Files)
			}
			return nil
		}),
	}
}

// issueQuery is the shared issue selection of the CLI and MCP.
type issueQuery struct {
	Filter  analysis.IssueFilter
	Query   string
	Page    int
	PerPage int
}

// selectIssues filters issues, or ranks them with the full-text index when
// a query is given, and returns the requested page.
func selectIssues(res *analysis.NormalizedResult, q issueQuery) (analysis.Page, error) {
	issues := analysis.FlattenIssues(res)
	if q.Query != "" {
		idx, err := search.New()
		if err != nil {
			return analysis.Page{}, err
		}
		defer idx.Close()
		if err := idx.Load(issues); err != nil {
			return analysis.Page{}, err
		}
		hits, err := idx.Search(q.Query, len(issues))
		if err != nil {
			return analysis.Page{}, err
		}
		// Ranking order is kept; the filter only narrows.
		ranked := hitIssues(hits)
		filtered := analysis.FilterIssues(ranked, q.Filter)
		keep := make(map[string]bool, len(filtered))
		for _, is := range filtered {
			keep[is.ID] = true
		}
		issues = issues[:0:0]
		for _, is := range ranked {
			if keep[is.ID] {
				issues = append(issues, is)
			}
		}
	} else {
		issues = analysis.FilterIssues(issues, q.Filter)
	}
	return analysis.Paginate(issues, q.Page, q.PerPage), nil
}

func issuesCommand() *cli.Command {
	return &cli.Command{
		Name:      "issues",
		Usage:     "List, filter and search issues",
		ArgsUsage: "[job-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Usage: "security, performance, complexity or documentation"},
			&cli.StringFlag{Name: "severity", Aliases: []string{"s"}, Usage: "critical, high, medium or low"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "only issues in this file"},
			&cli.StringFlag{Name: "grep", Aliases: []string{"g"}, Usage: "substring match on title, description and file"},
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "ranked full-text search (prefix and typo tolerant)"},
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Usage: "page number", Value: 1},
			&cli.IntFlag{Name: "per-page", Usage: "issues per page", Value: analysis.DefaultIssuesPerPage},
			jsonFlag(),
			refreshFlag(),
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			res, err := loadResult(ctx, a, cmd.Args().First(), cmd.Bool("refresh"))
			if err != nil {
				return err
			}
			page, err := selectIssues(res, issueQuery{
				Filter: analysis.IssueFilter{
					Agent:    cmd.String("agent"),
					File:     cmd.String("file"),
					Severity: cmd.String("severity"),
					Search:   cmd.String("grep"),
				},
				Query:   cmd.String("query"),
				Page:    int(cmd.Int("page")),
				PerPage: int(cmd.Int("per-page")),
			})
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(a.stdout, page)
			}
			if page.Total == 0 {
				fmt.Fprintln(a.stdout, "No issues match.")
				return nil
			}
			writeIssueTable(a.stdout, page.Issues)
			fmt.Fprintln(a.stdout, dimStyle.Render(fmt.Sprintf("page %d of %d, %d issues", page.Page, page.TotalPages, page.Total)))
			return nil
		}),
	}
}

func chartsCommand() *cli.Command {
	return &cli.Command{
		Name:      "charts",
		Usage:     "Print the chart series behind the dashboard",
		ArgsUsage: "[job-id]",
		Flags:     []cli.Flag{jsonFlag(), refreshFlag()},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			res, err := loadResult(ctx, a, cmd.Args().First(), cmd.Bool("refresh"))
			if err != nil {
				return err
			}
			ch := analysis.BuildCharts(res)
			if cmd.Bool("json") {
				return writeJSON(a.stdout, ch)
			}
			writePoints(a.stdout, "Severity", ch.Severity)
			writePoints(a.stdout, "Scores", ch.Metrics)
			writePoints(a.stdout, "Agents", ch.Agents)
			writePoints(a.stdout, "Languages", ch.Languages)
			fs := ch.Files
			fmt.Fprintln(a.stdout, titleStyle.Render("Issue distribution"))
			fmt.Fprintf(a.stdout, "%d files, mean %.2f issues (sd %.2f), max %d in %s, %.1f issues/KLOC\n",
				fs.Files, fs.MeanIssues, fs.StdDev, fs.MaxIssues, fs.MaxFile, fs.IssuesPerKLOC)
			return nil
		}),
	}
}
