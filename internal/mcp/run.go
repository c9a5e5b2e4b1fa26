package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/procman/internal/report"
	"github.com/deixis/procman/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type runParams struct {
	Command string `json:"command" jsonschema:"the command line to run, e.g. 'ls -la' or 'go version'"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	e, err := h.runner.Execute(ctx, params.Command)
	switch {
	case errors.Is(err, runner.ErrEmptyCommand):
		return errorResult("command is required")
	case errors.Is(err, runner.ErrLaunch):
		var le *runner.LaunchError
		if errors.As(err, &le) {
			return errorResult(fmt.Sprintf("Failed to start process %d (%s): %v", le.Execution.ID, le.Reason, le.Err))
		}
		return errorResult(err.Error())
	case err != nil:
		return errorResult(fmt.Sprintf("Waiting for %q: %v", params.Command, err))
	}
	return textResult(formatExecution(e))
}

type activeParams struct{}

func (h *handler) activeHandler(ctx context.Context, req *mcp.CallToolRequest, params activeParams) (*mcp.CallToolResult, any, error) {
	active := h.runner.Active()
	if len(active) == 0 {
		return textResult("No active processes.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d active process(es):\n", len(active))
	for i := range active {
		b.WriteString("\n")
		writeHeader(&b, &active[i])
	}
	return textResult(b.String())
}

type historyParams struct {
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of runs to list (default: all)"`
	Status    string `json:"status,omitempty" jsonschema:"filter by status: success or error"`
	Search    string `json:"search,omitempty" jsonschema:"only list runs whose command line contains this text"`
	Persisted bool   `json:"persisted,omitempty" jsonschema:"list stored runs from earlier sessions too"`
}

func (h *handler) historyHandler(ctx context.Context, req *mcp.CallToolRequest, params historyParams) (*mcp.CallToolResult, any, error) {
	q := report.Query{Limit: params.Limit, Status: runner.Status(params.Status), Search: params.Search}
	switch q.Status {
	case "", runner.StatusSuccess, runner.StatusError:
	default:
		return errorResult(fmt.Sprintf("unknown status %q (want success or error)", params.Status))
	}

	var execs []runner.Execution
	if params.Persisted {
		var err error
		if execs, err = h.store.List(q); err != nil {
			return errorResult(fmt.Sprintf("Failed to list stored runs: %v", err))
		}
	} else {
		// Session history stays in completion order; the limit keeps the latest.
		for _, e := range h.runner.History() {
			if q.Match(&e) {
				execs = append(execs, e)
			}
		}
		if q.Limit > 0 && len(execs) > q.Limit {
			execs = execs[len(execs)-q.Limit:]
		}
	}

	if len(execs) == 0 {
		return textResult("No executions.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d execution(s):\n", len(execs))
	for _, e := range execs {
		fmt.Fprintf(&b, "\n#%d %s  %s  exit %d  %s  run %s\n",
			e.ID, e.Status(), e.CommandLine, e.Code(), e.Duration, e.RunID)
	}
	return textResult(b.String())
}

type clearParams struct {
	Persisted bool `json:"persisted,omitempty" jsonschema:"also delete stored runs"`
}

func (h *handler) clearHandler(ctx context.Context, req *mcp.CallToolRequest, params clearParams) (*mcp.CallToolResult, any, error) {
	n := len(h.runner.History())
	h.runner.ClearHistory()
	if !params.Persisted {
		return textResult(fmt.Sprintf("Cleared %d execution(s) from session history.", n))
	}
	if err := h.store.Clear(); err != nil {
		return errorResult(fmt.Sprintf("Cleared session history but failed to clear stored runs: %v", err))
	}
	return textResult(fmt.Sprintf("Cleared %d execution(s) from session history and all stored runs.", n))
}
