// Package report persists completed executions so they can be inspected
// after the runner that produced them is gone.
package report

import (
	"cmp"
	"slices"
	"strings"

	"github.com/deixis/procman/internal/runner"
)

// Store persists and retrieves completed executions, keyed by RunID.
type Store interface {
	Save(e *runner.Execution) error
	Load(runID string) (*runner.Execution, error)
	List(q Query) ([]runner.Execution, error)
	Clear() error
	Close() error
}

// Query filters List results. Zero values match everything.
type Query struct {
	Limit  int           // maximum number of results; 0 is unlimited
	Status runner.Status // success or error
	Search string        // case-sensitive literal substring of the command line
}

// Match reports whether e satisfies the status and search filters.
func (q Query) Match(e *runner.Execution) bool {
	if q.Status != "" && e.Status() != q.Status {
		return false
	}
	if q.Search != "" && !strings.Contains(e.CommandLine, q.Search) {
		return false
	}
	return true
}

// Apply filters executions, orders them newest first and applies the limit.
func (q Query) Apply(all []runner.Execution) []runner.Execution {
	out := make([]runner.Execution, 0, len(all))
	for i := range all {
		if q.Match(&all[i]) {
			out = append(out, all[i])
		}
	}
	slices.SortStableFunc(out, func(a, b runner.Execution) int {
		return cmp.Compare(b.CompletedAt.UnixNano(), a.CompletedAt.UnixNano())
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Recorder returns a runner observer that saves every completed execution
// to s. Save errors are passed to onErr, which may be nil.
func Recorder(s Store, onErr func(*runner.Execution, error)) runner.Observer {
	return func(e runner.Execution) {
		if err := s.Save(&e); err != nil && onErr != nil {
			onErr(&e, err)
		}
	}
}
