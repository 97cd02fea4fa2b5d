package supervisor

import (
	"errors"
	"fmt"
)

// Kind classifies a failed Start.
type Kind int

const (
	// KindInvalidRequest: required request fields are missing. Nothing was spawned.
	KindInvalidRequest Kind = iota + 1

	// KindEnvironmentNotReady: the interpreter or entry script is absent.
	KindEnvironmentNotReady

	// KindProcessError: the operating system could not create the process.
	KindProcessError

	// KindProcessExited: the worker exited before it was resolved ready.
	KindProcessExited
)

// Sentinel errors for errors.Is checks against *Error.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEnvironmentNotReady = errors.New("environment not ready")
	ErrProcessError        = errors.New("process error")
	ErrProcessExited       = errors.New("process exited")
)

// String returns the kind name used in logs, metrics labels and API responses.
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindEnvironmentNotReady:
		return "EnvironmentNotReady"
	case KindProcessError:
		return "ProcessError"
	case KindProcessExited:
		return "ProcessExited"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindEnvironmentNotReady:
		return ErrEnvironmentNotReady
	case KindProcessError:
		return ErrProcessError
	case KindProcessExited:
		return ErrProcessExited
	default:
		return nil
	}
}

// Error is the failure outcome of Start.
type Error struct {
	Kind    Kind
	Message string

	// ExitCode is set for KindProcessExited, -1 otherwise.
	ExitCode int

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind != KindProcessError {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the Kind of a Start error, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, ExitCode: -1, Err: cause}
}
