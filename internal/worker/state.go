// Package worker wraps a single spawned agent worker process.
package worker

// State represents the lifecycle state of a worker process.
type State int

const (
	// StateStarting indicates the process has been spawned but has not yet
	// signalled readiness.
	StateStarting State = iota

	// StateReady indicates the start request resolved successfully and the
	// worker is considered to be serving.
	StateReady

	// StateExited indicates the process exited on its own.
	StateExited

	// StateKilled indicates the process was forcibly terminated by the supervisor.
	StateKilled
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// IsLive returns true if the process is expected to still be running.
func (s State) IsLive() bool {
	return s == StateStarting || s == StateReady
}

// IsTerminal returns true once the process is gone.
func (s State) IsTerminal() bool {
	return s == StateExited || s == StateKilled
}
