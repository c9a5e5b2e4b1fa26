package runner

import (
	"slices"
	"time"
)

// Stream identifies where an output line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
	// Error tags lines the runner itself records, such as launch failures.
	Error Stream = "error"
)

// Line is one captured chunk of output, trimmed of trailing whitespace.
type Line struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

func (l Line) String() string {
	return string(l.Stream) + ": " + l.Text
}

// Status is derived from the exit code of a completed execution.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Execution is one invocation of an external program through a Runner.
type Execution struct {
	ID          int64         `json:"id"`     // per-runner sequence number
	RunID       string        `json:"run_id"` // unique identifier for persistence
	CommandLine string        `json:"command_line"`
	Program     string        `json:"program"` // resolved executable
	Args        []string      `json:"args"`    // resolved arguments
	Shell       bool          `json:"shell,omitempty"`
	Output      []Line        `json:"output"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitzero"`
	Duration    time.Duration `json:"duration"`
	ExitCode    *int          `json:"exit_code"` // nil while running; -1 if the process exited without a code
	Truncated   bool          `json:"truncated,omitempty"`
}

// Completed reports whether the process has terminated.
func (e *Execution) Completed() bool {
	return e.ExitCode != nil
}

// Status returns success iff the exit code is 0.
func (e *Execution) Status() Status {
	switch {
	case e.ExitCode == nil:
		return StatusRunning
	case *e.ExitCode == 0:
		return StatusSuccess
	default:
		return StatusError
	}
}

// Code returns the exit code, or -1 while the process is running.
func (e *Execution) Code() int {
	if e.ExitCode == nil {
		return -1
	}
	return *e.ExitCode
}

// clone returns a deep copy that shares no memory with e.
func (e *Execution) clone() Execution {
	c := *e
	c.Args = slices.Clone(e.Args)
	c.Output = slices.Clone(e.Output)
	if e.ExitCode != nil {
		code := *e.ExitCode
		c.ExitCode = &code
	}
	return c
}
