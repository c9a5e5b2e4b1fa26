package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deixis/procman/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from a proc_run or proc_history result"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	e, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return textResult(formatExecution(e))
}

// formatExecution renders the full record of a run, output included.
func formatExecution(e *runner.Execution) string {
	var b strings.Builder
	writeHeader(&b, e)

	if len(e.Output) == 0 {
		b.WriteString("\nNo output.\n")
		return b.String()
	}
	b.WriteString("\nOutput:\n")
	for _, l := range e.Output {
		// Chunks may span several lines; keep them aligned under the tag.
		text := strings.ReplaceAll(l.Text, "\n", "\n    ")
		fmt.Fprintf(&b, "  %s: %s\n", l.Stream, text)
	}
	if e.Truncated {
		b.WriteString("  (output truncated)\n")
	}
	return b.String()
}

func writeHeader(b *strings.Builder, e *runner.Execution) {
	fmt.Fprintf(b, "Status: %s\n", e.Status())
	fmt.Fprintf(b, "Run: %s\n", e.RunID)
	fmt.Fprintf(b, "Process: %d\n", e.ID)
	fmt.Fprintf(b, "Command: %s\n", e.CommandLine)
	if e.Shell {
		fmt.Fprintf(b, "Program: %s %s (shell)\n", e.Program, strings.Join(e.Args, " "))
	} else if e.Program != "" {
		fmt.Fprintf(b, "Program: %s %s\n", e.Program, strings.Join(e.Args, " "))
	}
	if e.Completed() {
		fmt.Fprintf(b, "Exit code: %d\n", e.Code())
		fmt.Fprintf(b, "Duration: %s\n", e.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(b, "Running for: %s\n", time.Since(e.StartedAt).Round(time.Millisecond))
	}
}
