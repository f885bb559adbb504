package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/pkg/session"
	"github.com/jmylchreest/insight/pkg/submit"
)

func detachFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "detach",
		Aliases: []string{"d"},
		Usage:   "return after submitting instead of following progress",
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload files or directories and start an analysis",
		ArgsUsage: "<path> [path...]",
		Flags:     []cli.Flag{detachFlag()},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			if cmd.NArg() == 0 {
				return errors.New("at least one path is required")
			}
			col, err := submit.Collect(ctx, cmd.Args().Slice()...)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "Collected %d files (%d skipped)\n", len(col.Files), col.Skipped)

			job, err := a.submitter().Upload(ctx, col.Files)
			if err != nil {
				return err
			}
			return submitted(ctx, cmd, a, job)
		}),
	}
}

// submitted records a new job and follows it unless detached.
func submitted(ctx context.Context, cmd *cli.Command, a *app, job *submit.Job) error {
	a.startJob(job)
	if cmd.Bool("detach") {
		return nil
	}
	snap, err := follow(ctx, a, job.Context())
	if err != nil {
		return err
	}
	return finish(a, snap)
}

func githubCommand() *cli.Command {
	return &cli.Command{
		Name:  "github",
		Usage: "Analyze GitHub repositories",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Check that a repository exists and is accessible",
				ArgsUsage: "<repo-url>",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					url, err := repoArg(cmd)
					if err != nil {
						return err
					}
					v, err := a.submitter().Validate(ctx, url)
					if err != nil {
						return err
					}
					name := v.FullName
					if name == "" {
						name = v.Owner + "/" + v.RepoName
					}
					fmt.Fprintf(a.stdout, "%s is valid", name)
					if v.IsPrivate {
						fmt.Fprint(a.stdout, " (private)")
					}
					fmt.Fprintln(a.stdout)
					if v.Description != "" {
						fmt.Fprintln(a.stdout, dimStyle.Render(v.Description))
					}
					fmt.Fprintf(a.stdout, "default branch: %s, language: %s, stars: %d\n", v.DefaultBranch, v.Language, v.Stars)
					return nil
				}),
			},
			{
				Name:      "branches",
				Usage:     "List a repository's branches",
				ArgsUsage: "<repo-url>",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					url, err := repoArg(cmd)
					if err != nil {
						return err
					}
					br, err := a.submitter().Branches(ctx, url)
					if err != nil {
						return err
					}
					for _, b := range br.Branches {
						if b == br.DefaultBranch {
							fmt.Fprintln(a.stdout, titleStyle.Render(b+" (default)"))
							continue
						}
						fmt.Fprintln(a.stdout, b)
					}
					return nil
				}),
			},
			{
				Name:      "analyze",
				Usage:     "Validate and analyze a repository (defaults to this checkout's origin)",
				ArgsUsage: "[repo-url]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "branch", Aliases: []string{"b"}, Usage: "branch to analyze (default: repository default branch)"},
					detachFlag(),
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					req := submit.GitHubRequest{RepoURL: cmd.Args().First(), Branch: cmd.String("branch")}
					if req.RepoURL == "" {
						repo, err := submit.DetectRepository(".")
						if err != nil {
							return fmt.Errorf("no repository given and none detected: %w", err)
						}
						req.RepoURL = repo.URL
						if req.Branch == "" {
							req.Branch = repo.Branch
						}
						fmt.Fprintf(a.stderr, "Detected %s (%s)\n", repo.URL, repo.Branch)
					}
					job, err := a.submitter().AnalyzeRepository(ctx, req)
					if err != nil {
						return err
					}
					return submitted(ctx, cmd, a, job)
				}),
			},
			{
				Name:      "cleanup",
				Usage:     "Remove the backend's clone of an analyzed repository",
				ArgsUsage: "[job-id]",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					base, err := a.resolveJob(cmd.Args().First())
					if err != nil {
						return err
					}
					if base.Source == session.SourceUpload {
						return fmt.Errorf("job %s is an upload, nothing to clean up", base.JobID)
					}
					resp, err := a.client.CleanupRepository(ctx, base.JobID)
					if err != nil {
						return err
					}
					msg := resp.Message
					if msg == "" {
						msg = "cleaned up"
					}
					fmt.Fprintf(a.stdout, "%s: %s\n", base.JobID, msg)
					return nil
				}),
			},
		},
	}
}

func repoArg(cmd *cli.Command) (string, error) {
	if cmd.NArg() != 1 {
		return "", errors.New("exactly one repository URL is required")
	}
	return cmd.Args().First(), nil
}
