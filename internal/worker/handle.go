package worker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Streams holds the parent-side read ends of a worker's output pipes.
// Both must be drained until EOF; the write ends are owned by the worker
// process group, so EOF arrives once every member has exited.
type Streams struct {
	Stdout *os.File
	Stderr *os.File
}

// Close closes both read ends. Safe to call more than once.
func (s *Streams) Close() {
	if s == nil {
		return
	}
	if s.Stdout != nil {
		s.Stdout.Close()
	}
	if s.Stderr != nil {
		s.Stderr.Close()
	}
}

// Handle represents one spawned worker process. It is owned by the registry
// entry for its session.
type Handle struct {
	sessionID string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	mu       sync.RWMutex
	state    State
	exitCode int
	waitErr  error
	killed   bool
	endedAt  time.Time

	watchOnce sync.Once
	done      chan struct{}
}

// Spawn starts cmd in its own process group with stdout and stderr attached to
// fresh anonymous pipes. The caller must call Watch once the handle has been
// published, and must drain both returned streams.
//
// Pipes are created here rather than with cmd.StdoutPipe so that Wait never
// closes a reader that still has buffered output.
func Spawn(sessionID string, cmd *exec.Cmd) (*Handle, *Streams, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	// Own process group so Kill reaches anything the interpreter forks.
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, nil, err
	}

	// Close the parent's write ends so EOF tracks the child's lifetime.
	stdoutW.Close()
	stderrW.Close()

	h := &Handle{
		sessionID: sessionID,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: startedAt,
		state:     StateStarting,
		exitCode:  -1,
		done:      make(chan struct{}),
	}
	return h, &Streams{Stdout: stdoutR, Stderr: stderrR}, nil
}

// Watch starts reaping the process in the background. Done is closed once the
// process has exited. Calling Watch more than once has no further effect.
func (h *Handle) Watch() {
	h.watchOnce.Do(func() {
		go func() {
			err := h.cmd.Wait()

			h.mu.Lock()
			h.waitErr = err
			h.exitCode = ExitCode(err)
			h.endedAt = time.Now()
			if h.killed {
				h.state = StateKilled
			} else {
				h.state = StateExited
			}
			h.mu.Unlock()

			close(h.done)
		}()
	})
}

// Kill sends SIGKILL to the worker's process group. A process that is already
// gone is not an error.
//
// If no signal could be delivered the handle keeps its previous state, so a
// failed Kill leaves a worker that still looks live.
func (h *Handle) Kill() error {
	h.mu.Lock()
	prevState, prevKilled := h.state, h.killed
	h.killed = true
	if h.state.IsLive() {
		h.state = StateKilled
	}
	h.mu.Unlock()

	err := unix.Kill(-h.pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}

	// Group signal refused; fall back to the leader alone.
	if perr := h.cmd.Process.Kill(); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
		h.restore(prevState, prevKilled)
		return fmt.Errorf("kill pid %d: %w", h.pid, perr)
	}
	return nil
}

// restore undoes Kill's bookkeeping unless the process has been reaped since.
func (h *Handle) restore(state State, killed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.state = state
	h.killed = killed
}

// Wait blocks until the process has been reaped or the timeout elapses.
// Returns true if the process exited in time.
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-h.done:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return true
	case <-t.C:
		return false
	}
}

// MarkReady records that the start request resolved successfully.
// It has no effect once the process is gone.
func (h *Handle) MarkReady() {
	h.mu.Lock()
	if h.state == StateStarting {
		h.state = StateReady
	}
	h.mu.Unlock()
}

// Done returns a channel that is closed after the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// SessionID returns the owning session identifier.
func (h *Handle) SessionID() string {
	return h.sessionID
}

// PID returns the operating system process ID.
func (h *Handle) PID() int {
	return h.pid
}

// StartedAt returns the spawn timestamp.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// ExitCode returns the exit code, or -1 while the process is running.
func (h *Handle) ExitCode() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode
}

// Err returns the error reported by Wait, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waitErr
}

// Uptime returns how long the process has been running, or its total
// lifetime once it is gone.
func (h *Handle) Uptime() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.endedAt.IsZero() {
		return h.endedAt.Sub(h.startedAt)
	}
	return time.Since(h.startedAt)
}

// ExitCode extracts the exit code from a Wait() error.
// Processes terminated by a signal report 128 + signal number.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	return 1
}
