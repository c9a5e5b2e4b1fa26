package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

var (
	// ErrEmptyCommand is returned for command lines without any tokens.
	ErrEmptyCommand = errors.New("empty command line")
	// ErrLaunch matches every *LaunchError via errors.Is.
	ErrLaunch = errors.New("failed to start process")
)

// Launch failure reasons.
const (
	ReasonNotFound         = "not found"
	ReasonPermissionDenied = "permission denied"
	ReasonFailed           = "failed"
)

// LaunchError reports that the OS could not start the resolved program.
// The attempt is not recorded in history.
type LaunchError struct {
	Execution Execution // discarded record, including the error line
	Reason    string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("process %d: starting %s: %s: %v", e.Execution.ID, e.Execution.Program, e.Reason, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunch
}

func classify(err error) string {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	case isPermissionErr(err):
		return ReasonPermissionDenied
	default:
		return ReasonFailed
	}
}
