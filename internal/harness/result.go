package harness

import "time"

// Outcome classifies how a supervised run ended.
type Outcome int

const (
	// OutcomeChildExit means the server exited on its own; ExitCode carries
	// its status. A non-zero status is the child's failure, not the
	// harness's, and is propagated as-is.
	OutcomeChildExit Outcome = iota

	// OutcomeForced means the harness terminated the server itself, either
	// because of an external interruption/termination signal or because the
	// log stream failed.
	OutcomeForced
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeChildExit:
		return "child_exit"
	case OutcomeForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Result captures the outcome of one supervised run.
type Result struct {
	// Outcome says whether the child exited organically or was killed.
	Outcome Outcome

	// ExitCode is the child's exit status. Meaningful for OutcomeChildExit;
	// for OutcomeForced it reflects the kill signal (128+signal) when the
	// child was reaped, or -1 when it never ran.
	ExitCode int

	// Uptime is how long the child ran.
	Uptime time.Duration

	// BytesStreamed and LinesStreamed count what the follow loop observed.
	BytesStreamed int64
	LinesStreamed int64

	// LinesDropped counts pipeline drops (mirror path is never lossy).
	LinesDropped int64

	// CleanupWarning carries a best-effort cleanup failure (for example a
	// workspace removal error). Never masks the run's outcome.
	CleanupWarning error
}

// Success reports an organic, zero-status child exit.
func (r Result) Success() bool {
	return r.Outcome == OutcomeChildExit && r.ExitCode == 0
}

// Forced reports supervisor-initiated termination.
func (r Result) Forced() bool {
	return r.Outcome == OutcomeForced
}
