package worker

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func spawnShell(t *testing.T, script string) (*Handle, *Streams) {
	t.Helper()
	h, streams, err := Spawn("room-test", exec.Command("sh", "-c", script))
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() {
		h.Kill()
		h.Wait(2 * time.Second)
		streams.Close()
	})
	return h, streams
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateReady, "ready"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_IsLive(t *testing.T) {
	if !StateStarting.IsLive() || !StateReady.IsLive() {
		t.Error("starting and ready should be live")
	}
	if StateExited.IsLive() || StateKilled.IsLive() {
		t.Error("exited and killed should not be live")
	}
	if !StateExited.IsTerminal() || !StateKilled.IsTerminal() {
		t.Error("exited and killed should be terminal")
	}
}

func TestSpawn_CapturesStdout(t *testing.T) {
	h, streams := spawnShell(t, "echo hello-from-worker")
	h.Watch()

	out, err := io.ReadAll(streams.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if !strings.Contains(string(out), "hello-from-worker") {
		t.Errorf("stdout = %q, want it to contain hello-from-worker", out)
	}
	if !h.Wait(2 * time.Second) {
		t.Fatal("process did not exit")
	}
	if h.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", h.ExitCode())
	}
	if h.State() != StateExited {
		t.Errorf("State() = %v, want exited", h.State())
	}
}

func TestSpawn_CapturesStderrSeparately(t *testing.T) {
	h, streams := spawnShell(t, "echo oops >&2")
	h.Watch()

	errOut, _ := io.ReadAll(streams.Stderr)
	out, _ := io.ReadAll(streams.Stdout)
	if !strings.Contains(string(errOut), "oops") {
		t.Errorf("stderr = %q, want oops", errOut)
	}
	if len(out) != 0 {
		t.Errorf("stdout = %q, want empty", out)
	}
}

func TestHandle_ExitCode(t *testing.T) {
	h, _ := spawnShell(t, "exit 3")
	if h.ExitCode() != -1 {
		t.Errorf("ExitCode() before exit = %d, want -1", h.ExitCode())
	}
	h.Watch()
	if !h.Wait(2 * time.Second) {
		t.Fatal("process did not exit")
	}
	if h.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", h.ExitCode())
	}
	if h.Err() == nil {
		t.Error("Err() should report the non-zero exit")
	}
}

func TestHandle_Kill(t *testing.T) {
	h, _ := spawnShell(t, "sleep 30")
	h.Watch()

	if h.State() != StateStarting {
		t.Fatalf("State() = %v, want starting", h.State())
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
	if !h.Wait(2 * time.Second) {
		t.Fatal("process survived SIGKILL")
	}
	if h.State() != StateKilled {
		t.Errorf("State() = %v, want killed", h.State())
	}
	if h.ExitCode() != 137 {
		t.Errorf("ExitCode() = %d, want 137 (128+SIGKILL)", h.ExitCode())
	}
}

func TestHandle_RestoreAfterFailedKill(t *testing.T) {
	h, _ := spawnShell(t, "sleep 30")
	h.Watch()
	h.MarkReady()

	// What Kill leaves behind before a signal fails.
	h.mu.Lock()
	h.state, h.killed = StateKilled, true
	h.mu.Unlock()

	h.restore(StateReady, false)

	if h.State() != StateReady {
		t.Errorf("State() = %v, want ready", h.State())
	}
	h.mu.RLock()
	killed := h.killed
	h.mu.RUnlock()
	if killed {
		t.Error("killed flag survived restore")
	}
}

func TestHandle_RestoreAfterReapIsNoop(t *testing.T) {
	h, _ := spawnShell(t, "exit 0")
	h.Watch()
	if !h.Wait(2 * time.Second) {
		t.Fatal("process did not exit")
	}

	h.restore(StateReady, false)

	if h.State() != StateExited {
		t.Errorf("State() = %v, want exited", h.State())
	}
}

func TestHandle_KillAlreadyExited(t *testing.T) {
	h, _ := spawnShell(t, "true")
	h.Watch()
	if !h.Wait(2 * time.Second) {
		t.Fatal("process did not exit")
	}
	if err := h.Kill(); err != nil {
		t.Errorf("Kill() on exited process should be a no-op, got %v", err)
	}
}

func TestHandle_KillReachesProcessGroup(t *testing.T) {
	// The shell forks a child sleep; killing the group must close stdout.
	h, streams := spawnShell(t, "sleep 30 & wait")
	h.Watch()

	if err := h.Kill(); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, streams.Stdout)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stdout not closed; grandchild survived the group kill")
	}
}

func TestHandle_MarkReady(t *testing.T) {
	h, _ := spawnShell(t, "sleep 30")
	h.MarkReady()
	if h.State() != StateReady {
		t.Errorf("State() = %v, want ready", h.State())
	}

	h.Watch()
	h.Kill()
	h.Wait(2 * time.Second)
	h.MarkReady()
	if h.State() != StateKilled {
		t.Errorf("MarkReady after kill changed state to %v", h.State())
	}
}

func TestHandle_WaitZeroTimeout(t *testing.T) {
	h, _ := spawnShell(t, "sleep 30")
	h.Watch()
	if h.Wait(0) {
		t.Error("Wait(0) on running process should return false")
	}
}

func TestHandle_Accessors(t *testing.T) {
	before := time.Now()
	h, _ := spawnShell(t, "sleep 30")
	if h.SessionID() != "room-test" {
		t.Errorf("SessionID() = %q", h.SessionID())
	}
	if h.PID() <= 0 {
		t.Errorf("PID() = %d", h.PID())
	}
	if h.StartedAt().Before(before) {
		t.Error("StartedAt() predates Spawn")
	}
	if h.Uptime() < 0 {
		t.Error("Uptime() negative")
	}
}

func TestSpawn_MissingBinary(t *testing.T) {
	_, _, err := Spawn("room-test", exec.Command("/nonexistent/interpreter-binary"))
	if err == nil {
		t.Fatal("expected launch error for missing binary")
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("ExitCode(nil) should be 0")
	}
	if ExitCode(errors.New("boom")) != 1 {
		t.Error("unknown errors should map to 1")
	}
}
