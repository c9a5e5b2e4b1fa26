package runner

import (
	"log"
)

// Sink receives execution events as they happen. Calls for one execution may
// come from several goroutines; implementations must be safe for concurrent use.
type Sink interface {
	Started(e Execution)
	Output(id int64, line Line)
	Completed(e Execution)
	LaunchFailed(e Execution, err error)
}

// LogSink mirrors execution events to a standard logger.
type LogSink struct {
	Logger *log.Logger // nil uses log.Default()
}

func (s LogSink) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

func (s LogSink) Started(e Execution) {
	s.logger().Printf("[Process %d] Starting command: %s", e.ID, e.CommandLine)
}

func (s LogSink) Output(id int64, line Line) {
	s.logger().Printf("[Process %d] %s", id, line)
}

func (s LogSink) Completed(e Execution) {
	s.logger().Printf("[Process %d] Completed with code %d (%s)", e.ID, e.Code(), e.Duration)
}

func (s LogSink) LaunchFailed(e Execution, err error) {
	s.logger().Printf("[Process %d] Failed to start process: %v", e.ID, err)
}

// DiscardSink drops every event.
type DiscardSink struct{}

func (DiscardSink) Started(Execution)             {}
func (DiscardSink) Output(int64, Line)            {}
func (DiscardSink) Completed(Execution)           {}
func (DiscardSink) LaunchFailed(Execution, error) {}
