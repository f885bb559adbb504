package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/insight/internal/version"
	"github.com/jmylchreest/insight/pkg/analysis"
	"github.com/jmylchreest/insight/pkg/chat"
	"github.com/jmylchreest/insight/pkg/monitor"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run an MCP server on stdio exposing analysis status, results, issues and chat",
		Action: withApp(func(ctx context.Context, _ *cli.Command, a *app) error {
			s := newMCPServer(ctx, a)
			defer s.close()
			a.logger.Info("MCP server listening on stdio")
			return s.server.Run(ctx, &mcp.StdioTransport{})
		}),
	}
}

type mcpServer struct {
	app    *app
	server *mcp.Server
	logger *slog.Logger
	// runCtx outlives individual tool calls; background monitors use it.
	runCtx context.Context

	mu         sync.Mutex
	mon        *monitor.Monitor
	conv       *chat.Conversation
	convTarget chat.Target
	toolCounts map[string]int
}

func newMCPServer(ctx context.Context, a *app) *mcpServer {
	s := &mcpServer{
		app:        a,
		logger:     a.logger.With("component", "mcp"),
		runCtx:     ctx,
		toolCounts: make(map[string]int),
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    version.ApplicationName,
		Version: version.Short(),
	}, nil)
	s.server.AddReceivingMiddleware(s.toolCountMiddleware())
	s.registerTools()
	return s
}

func (s *mcpServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mon != nil {
		s.mon.Stop()
	}
	if len(s.toolCounts) > 0 {
		s.logger.Info("MCP server stopped", "tool_calls", s.toolCounts)
	}
}

func (s *mcpServer) toolCountMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method == "tools/call" {
				if params, ok := req.GetParams().(*mcp.CallToolParamsRaw); ok {
					s.mu.Lock()
					s.toolCounts[params.Name]++
					s.mu.Unlock()
				}
			}
			return next(ctx, method, req)
		}
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + message},
		},
		IsError: true,
	}
}

type StatusInput struct {
	JobID string `json:"job_id,omitempty" jsonschema:"Analysis job ID. Omit for the most recent analysis."`
}

type ResultsInput struct {
	JobID   string `json:"job_id,omitempty" jsonschema:"Analysis job ID. Omit for the most recent analysis."`
	Refresh bool   `json:"refresh,omitempty" jsonschema:"Re-fetch from the backend instead of using cached results (default false)"`
}

type IssuesInput struct {
	JobID    string `json:"job_id,omitempty" jsonschema:"Analysis job ID. Omit for the most recent analysis."`
	Agent    string `json:"agent,omitempty" jsonschema:"Filter by agent: security, performance, complexity, documentation"`
	Severity string `json:"severity,omitempty" jsonschema:"Filter by severity: critical, high, medium, low"`
	File     string `json:"file,omitempty" jsonschema:"Only issues in this file (as listed in analysis_results)"`
	Query    string `json:"query,omitempty" jsonschema:"Full-text search over titles, descriptions, suggestions and file names. Results are ranked; prefixes ('inject') and single typos match."`
	Page     int    `json:"page,omitempty" jsonschema:"Page number, 1-based (default 1)"`
	PerPage  int    `json:"per_page,omitempty" jsonschema:"Issues per page (default 20)"`
}

type ChatInput struct {
	Message   string `json:"message" jsonschema:"Question about the analyzed codebase"`
	Repo      string `json:"repo,omitempty" jsonschema:"GitHub repository URL. Omit to use the most recent analysis."`
	Branch    string `json:"branch,omitempty" jsonschema:"Repository branch"`
	UploadDir string `json:"upload_dir,omitempty" jsonschema:"Backend upload directory of an uploaded analysis"`
}

func (s *mcpServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "analysis_status",
		Description: `Report the progress of a code analysis job: phase, percent complete and files analyzed.

Calling this for a running job starts following it in the background, so later calls
report live progress pushed by the backend.`,
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "analysis_results",
		Description: `Summarize an analysis: totals, issues per severity and agent, and the
security, performance, code quality and documentation scores (0-100).

Returns partial results while the job is still running.`,
	}, s.handleResults)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "analysis_issues",
		Description: `List issues found by an analysis, highest severity first, with file, line and
suggested fix. Filter by agent, severity or file, or rank with a full-text query.`,
	}, s.handleIssues)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "codebase_chat",
		Description: `Ask the backend's AI assistant a question about the analyzed codebase.

The conversation is kept between calls for the same repository or upload. When the
assistant is unreachable a local demo assistant answers instead.`,
	}, s.handleChat)
}

func (s *mcpServer) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, any, error) {
	s.logger.Debug("tool: analysis_status", "job_id", input.JobID)

	base, err := s.app.resolveJob(input.JobID)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	s.mu.Lock()
	mon := s.mon
	s.mu.Unlock()
	if mon != nil {
		if snap := mon.Snapshot(); snap.JobID == base.JobID && snap.Phase != monitor.PhaseStopped {
			return textResult(formatStatusMarkdown(snap)), nil, nil
		}
	}

	st, err := s.app.client.Status(ctx, base.JobID)
	if err != nil {
		s.logger.Warn("status failed", "job_id", base.JobID, "error", err)
		return errorResult(fmt.Sprintf("status failed: %v", err)), nil, nil
	}
	if !st.Status.IsTerminal() {
		s.mu.Lock()
		if s.mon != nil {
			s.mon.Stop()
		}
		s.mon = s.app.newMonitor(base, logNotifier(s.logger))
		err := s.mon.Start(s.runCtx, base.JobID)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("follow job", "job_id", base.JobID, "error", err)
		}
	}
	return textResult(formatStatusMarkdown(snapshotFromState(st))), nil, nil
}

func (s *mcpServer) handleResults(ctx context.Context, _ *mcp.CallToolRequest, input ResultsInput) (*mcp.CallToolResult, any, error) {
	s.logger.Debug("tool: analysis_results", "job_id", input.JobID, "refresh", input.Refresh)

	res, err := loadResult(ctx, s.app, input.JobID, input.Refresh)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(formatResultMarkdown(res)), nil, nil
}

func (s *mcpServer) handleIssues(ctx context.Context, _ *mcp.CallToolRequest, input IssuesInput) (*mcp.CallToolResult, any, error) {
	s.logger.Debug("tool: analysis_issues", "job_id", input.JobID, "query", input.Query)

	res, err := loadResult(ctx, s.app, input.JobID, false)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	page, err := selectIssues(res, issueQuery{
		Filter: analysis.IssueFilter{
			Agent:    input.Agent,
			File:     input.File,
			Severity: input.Severity,
		},
		Query:   input.Query,
		Page:    input.Page,
		PerPage: input.PerPage,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil, nil
	}
	return textResult(formatIssuesMarkdown(page)), nil, nil
}

func (s *mcpServer) handleChat(ctx context.Context, _ *mcp.CallToolRequest, input ChatInput) (*mcp.CallToolResult, any, error) {
	s.logger.Debug("tool: codebase_chat", "repo", input.Repo)

	if strings.TrimSpace(input.Message) == "" {
		return errorResult("message is required"), nil, nil
	}
	target, err := chatTarget(s.app, chat.Target{
		UploadDir:  input.UploadDir,
		GitHubRepo: input.Repo,
		Branch:     input.Branch,
	})
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	s.mu.Lock()
	if s.conv == nil || s.convTarget != target {
		s.conv = chat.Start(ctx, s.app.client, target,
			chat.WithNotifier(logNotifier(s.logger)),
			chat.WithLogger(s.app.logger),
		)
		s.convTarget = target
	}
	conv := s.conv
	s.mu.Unlock()

	reply, _ := conv.Send(ctx, input.Message)
	var sb strings.Builder
	if conv.Demo() {
		sb.WriteString("_Assistant unavailable; answered in demo mode._\n\n")
	}
	sb.WriteString(reply.Content)
	if len(reply.FollowUps) > 0 {
		sb.WriteString("\n\n**Follow-up suggestions:**\n")
		for _, f := range reply.FollowUps {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	return textResult(sb.String()), nil, nil
}
