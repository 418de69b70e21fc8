// Package harness supervises one dedicated-server process and one scratch
// workspace, with guaranteed cleanup on every exit path.
package harness

// State represents the current state of a supervised run.
type State int

const (
	// StateIdle is the initial state before setup has started.
	StateIdle State = iota

	// StateWorkspaceReady indicates the scratch workspace exists.
	StateWorkspaceReady

	// StateRunning indicates the server process has been spawned.
	StateRunning

	// StateStreaming indicates the follow loop is mirroring log output.
	StateStreaming

	// StateExited indicates the server exited on its own.
	StateExited

	// StateStreamFailed indicates the follow-read failed while the server
	// may still have been running.
	StateStreamFailed

	// StateCleanup indicates the guaranteed cleanup action is executing.
	StateCleanup

	// StateTerminated is the sole terminal state: process gone, workspace gone.
	StateTerminated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWorkspaceReady:
		return "workspace_ready"
	case StateRunning:
		return "running"
	case StateStreaming:
		return "streaming"
	case StateExited:
		return "exited"
	case StateStreamFailed:
		return "stream_failed"
	case StateCleanup:
		return "cleanup"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsActive returns true while the run holds live resources.
func (s State) IsActive() bool {
	switch s {
	case StateWorkspaceReady, StateRunning, StateStreaming, StateExited, StateStreamFailed, StateCleanup:
		return true
	}
	return false
}

// IsTerminal returns true if the state is the terminal state.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}
