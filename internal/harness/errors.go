package harness

import (
	"fmt"

	"github.com/randomizedcoder/go-doom-server-harness/internal/workspace"
)

// LaunchError means the server executable could not be started: missing
// binary, permission denied, or a failed fork. Not retried. When the binary
// cannot even be resolved, the error is returned before any workspace or
// process exists, so there is nothing to clean up.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// WorkspaceError means the scratch workspace could not be created or
// populated. Creation failure aborts the run before launch; removal failure
// during cleanup is downgraded to a warning so it never masks the run's
// real outcome.
type WorkspaceError = workspace.Error

// StreamError means the log follow-read failed independent of child exit.
// The harness treats it like a cancellation signal: the server is
// force-terminated and cleanup runs before the error is surfaced.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("log stream: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
