// Package mcp provides the procman MCP server, registering the process
// tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"log"
	"net/url"
	"time"

	"github.com/deixis/procman"
	"github.com/deixis/procman/internal/config"
	"github.com/deixis/procman/internal/report"
	"github.com/deixis/procman/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	runner *runner.Runner
	store  report.Store
}

// NewServer creates an MCP server with all procman tools registered. Every
// execution completed by r is saved to store.
func NewServer(r *runner.Runner, store report.Store) *mcp.Server {
	h := &handler{runner: r, store: store}
	r.Subscribe(report.Recorder(store, func(e *runner.Execution, err error) {
		log.Printf("saving run %s: %v", e.RunID, err)
	}))

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "procman", Version: procman.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "proc_run",
		Description: `Run a command line and wait for it to finish.

The line is split on whitespace with no shell interpretation. Returns the status,
exit code, duration, run id and captured stdout/stderr. A non-zero exit is reported
as Status: error, not as a tool failure.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "proc_active",
		Description: "List commands that have been started and have not finished yet.",
	}, h.activeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "proc_history",
		Description: `List completed runs.

By default lists this session's runs in completion order. With persisted=true,
lists stored runs from earlier sessions too, newest first.`,
	}, h.historyHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "proc_inspect",
		Description: "Show the full record of a completed run by the run_id from proc_run or proc_history.",
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "proc_clear",
		Description: "Clear this session's run history. With persisted=true, also delete stored runs.",
	}, h.clearHandler)

	return s
}

// updateWorkspaceFromRoots queries the client for MCP roots and applies the
// configuration of the first file root to the runner. This is called during
// session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	if err := h.useWorkspace(u.Path); err != nil {
		log.Printf("workspace %s: %v", u.Path, err)
	}
}

// useWorkspace points the runner at workspace with the settings from its
// .procman file. The store is shared by all sessions and is left as is.
func (h *handler) useWorkspace(workspace string) error {
	loaded, err := config.Load(workspace)
	if err != nil {
		return err
	}
	cfg := loaded.Config
	mapper, err := cfg.Mapper()
	if err != nil {
		return err
	}
	h.runner.Configure(runner.Settings{
		Mapper:       mapper,
		Dir:          workspace,
		MaxOutput:    cfg.MaxOutputBytes(),
		HistoryLimit: cfg.HistoryLimit,
	})
	return nil
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
