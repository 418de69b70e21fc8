package harness

import "testing"

func TestState_String(t *testing.T) {
	testCases := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateWorkspaceReady, "workspace_ready"},
		{StateRunning, "running"},
		{StateStreaming, "streaming"},
		{StateExited, "exited"},
		{StateStreamFailed, "stream_failed"},
		{StateCleanup, "cleanup"},
		{StateTerminated, "terminated"},
		{State(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.state.String(); got != tc.want {
				t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
			}
		})
	}
}

func TestState_IsActive(t *testing.T) {
	if StateIdle.IsActive() {
		t.Error("idle should not be active")
	}
	if StateTerminated.IsActive() {
		t.Error("terminated should not be active")
	}
	for _, s := range []State{StateWorkspaceReady, StateRunning, StateStreaming, StateCleanup} {
		if !s.IsActive() {
			t.Errorf("%v should be active", s)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	if !StateTerminated.IsTerminal() {
		t.Error("terminated should be terminal")
	}
	for _, s := range []State{StateIdle, StateWorkspaceReady, StateRunning, StateStreaming, StateExited, StateStreamFailed, StateCleanup} {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	if OutcomeChildExit.String() != "child_exit" {
		t.Errorf("OutcomeChildExit.String() = %q", OutcomeChildExit.String())
	}
	if OutcomeForced.String() != "forced" {
		t.Errorf("OutcomeForced.String() = %q", OutcomeForced.String())
	}
	if Outcome(42).String() != "unknown" {
		t.Errorf("Outcome(42).String() = %q", Outcome(42).String())
	}
}

func TestResult_Success(t *testing.T) {
	testCases := []struct {
		name   string
		result Result
		want   bool
	}{
		{"clean_exit", Result{Outcome: OutcomeChildExit, ExitCode: 0}, true},
		{"nonzero_exit", Result{Outcome: OutcomeChildExit, ExitCode: 1}, false},
		{"forced", Result{Outcome: OutcomeForced, ExitCode: 0}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.Success(); got != tc.want {
				t.Errorf("Success() = %v, want %v", got, tc.want)
			}
		})
	}
}
