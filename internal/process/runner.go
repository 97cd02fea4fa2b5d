// Package process builds the command line and environment for agent workers.
package process

import (
	"os/exec"
)

// Runner creates executable commands for session workers.
// This interface allows the supervisor to be agnostic of the worker program.
type Runner interface {
	// BuildCommand returns a ready-to-start command for the given session.
	// The command must NOT be started yet, and must not be bound to a
	// request-scoped context: the worker outlives the start request.
	BuildCommand(sessionID string, creds Credentials) (*exec.Cmd, error)

	// WorkerFiles returns the interpreter and entry script that must exist
	// before a spawn is attempted.
	WorkerFiles() (interpreter, script string)

	// Signature returns a command-line substring identifying this kind of
	// worker, used to find stray instances system-wide.
	Signature() string

	// Name returns a human-readable name for this process type.
	Name() string
}
