package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/pkg/chat"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Ask the AI assistant about the analyzed codebase",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "ask one question and exit"},
			&cli.StringFlag{Name: "repo", Usage: "GitHub repository (default: the current analysis)"},
			&cli.StringFlag{Name: "branch", Usage: "repository branch"},
			&cli.StringFlag{Name: "upload-dir", Usage: "backend upload directory (default: the current analysis)"},
			&cli.BoolFlag{Name: "plain", Usage: "print raw markdown"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			target, err := chatTarget(a, chat.Target{
				UploadDir:  cmd.String("upload-dir"),
				GitHubRepo: cmd.String("repo"),
				Branch:     cmd.String("branch"),
			})
			if err != nil {
				return err
			}
			conv := chat.Start(ctx, a.client, target,
				chat.WithNotifier(terminalNotifier(a.stderr)),
				chat.WithLogger(a.logger),
			)
			plain := cmd.Bool("plain")

			if q := cmd.String("message"); q != "" {
				reply, ok := conv.Send(ctx, q)
				if ok {
					printMessage(a.stdout, reply, plain)
				}
				return nil
			}

			for _, m := range conv.Messages() {
				printMessage(a.stdout, m, plain)
			}
			return chatLoop(ctx, conv, os.Stdin, a.stdout, a.stderr, plain)
		}),
	}
}

// chatTarget fills the parts of t not given on the command line from the
// saved dashboard context.
func chatTarget(a *app, t chat.Target) (chat.Target, error) {
	if t.UploadDir != "" || t.GitHubRepo != "" {
		return t, nil
	}
	c, err := a.contexts.Load()
	if err != nil || c == nil {
		return t, err
	}
	t.UploadDir = c.UploadDir
	t.GitHubRepo = c.GitHubRepo
	if t.Branch == "" {
		t.Branch = c.Branch
	}
	return t, nil
}

func chatLoop(ctx context.Context, conv *chat.Conversation, in io.Reader, out, prompt io.Writer, plain bool) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(prompt, titleStyle.Render("you> "))
		if !sc.Scan() {
			fmt.Fprintln(prompt)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		reply, ok := conv.Send(ctx, line)
		if !ok {
			continue
		}
		printMessage(out, reply, plain)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func printMessage(w io.Writer, m chat.Message, plain bool) {
	if m.Role == chat.RoleUser {
		return
	}
	fmt.Fprint(w, renderMarkdown(m.Content, plain))
	if len(m.RelatedFiles) > 0 {
		fmt.Fprintln(w, dimStyle.Render("Related: "+strings.Join(m.RelatedFiles, ", ")))
	}
	for _, f := range m.FollowUps {
		fmt.Fprintln(w, dimStyle.Render("  → "+f))
	}
}
