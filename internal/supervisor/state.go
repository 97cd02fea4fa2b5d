// Package supervisor starts, watches and stops one agent worker per session.
package supervisor

// RequestState is the progress of a single Start request.
type RequestState int

const (
	// StatePreparing covers validation, retiring any previous worker and
	// environment cleanup.
	StatePreparing RequestState = iota

	// StateSpawning covers the file checks and process creation.
	StateSpawning

	// StateAwaitingReady waits for readiness output, the timeout or a fault.
	StateAwaitingReady

	// StateResolvedSuccess means the worker is serving (or still starting
	// when the timeout fired).
	StateResolvedSuccess

	// StateResolvedFailure means the request failed; no worker is registered
	// for it.
	StateResolvedFailure
)

// String returns a human-readable name for the state.
func (s RequestState) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateSpawning:
		return "spawning"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateResolvedSuccess:
		return "resolved_success"
	case StateResolvedFailure:
		return "resolved_failure"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the request has resolved.
func (s RequestState) IsTerminal() bool {
	return s == StateResolvedSuccess || s == StateResolvedFailure
}
