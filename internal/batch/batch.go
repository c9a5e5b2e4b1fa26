// Package batch runs a configured list of command lines through a runner,
// in order, and reports the outcome of each step.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/deixis/procman/internal/runner"
)

// Executor runs a single command line. Implemented by runner.Runner.
type Executor interface {
	Execute(ctx context.Context, commandLine string) (*runner.Execution, error)
}

// Step statuses.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"    // ran and exited non-zero
	StatusError   = "error"   // could not be launched
	StatusSkipped = "skipped" // not run because an earlier step failed
)

// StepResult holds the outcome of a single step.
type StepResult struct {
	Name      string
	Status    string
	Execution *runner.Execution // nil unless the step ran
	Detail    string            // launch error or exit code summary
}

// Result holds the full outcome of a batch.
type Result struct {
	Steps     []StepResult
	FailedIdx int // index of the first failing step; -1 if all passed
}

// Passed reports whether every step passed.
func (r *Result) Passed() bool {
	return r.FailedIdx < 0
}

// Engine runs batches.
type Engine struct {
	Executor  Executor
	KeepGoing bool // run remaining steps after a failure
}

// Run executes steps sequentially. Without KeepGoing the first failing step
// stops the batch and the remaining steps are marked skipped. An error is
// returned only if ctx is done.
func (e *Engine) Run(ctx context.Context, steps []string) (*Result, error) {
	results := make([]StepResult, len(steps))
	for i, step := range steps {
		results[i] = StepResult{Name: step, Status: StatusSkipped}
	}

	failedIdx := -1
	for i, step := range steps {
		if failedIdx >= 0 && !e.KeepGoing {
			break
		}
		exec, err := e.Executor.Execute(ctx, step)
		switch {
		case err != nil && ctx.Err() != nil:
			return &Result{Steps: results, FailedIdx: failedIdx}, fmt.Errorf("step %q: %w", step, err)
		case err != nil:
			detail := err.Error()
			var le *runner.LaunchError
			if errors.As(err, &le) {
				detail = le.Reason + ": " + le.Err.Error()
			}
			results[i] = StepResult{Name: step, Status: StatusError, Detail: detail}
		case exec.Status() == runner.StatusSuccess:
			results[i] = StepResult{Name: step, Status: StatusPass, Execution: exec}
		default:
			results[i] = StepResult{
				Name:      step,
				Status:    StatusFail,
				Execution: exec,
				Detail:    fmt.Sprintf("exit code %d", exec.Code()),
			}
		}
		if results[i].Status != StatusPass && failedIdx < 0 {
			failedIdx = i
		}
	}

	return &Result{Steps: results, FailedIdx: failedIdx}, nil
}
