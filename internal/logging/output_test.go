package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestHandler(verbose bool) (*OutputHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "debug")
	return NewOutputHandler("room-1", "stderr", logger, verbose), &buf
}

func TestNewOutputHandler(t *testing.T) {
	h, _ := newTestHandler(false)
	if h.sessionID != "room-1" {
		t.Errorf("sessionID = %q, want room-1", h.sessionID)
	}
	if h.stream != "stderr" {
		t.Errorf("stream = %q, want stderr", h.stream)
	}
	if len(h.buffer) != MaxBufferedLines {
		t.Errorf("buffer length = %d, want %d", len(h.buffer), MaxBufferedLines)
	}
}

func TestOutputHandler_HandleLine(t *testing.T) {
	h, buf := newTestHandler(true)

	h.HandleLine("test line")

	lines := h.RecentLines(1)
	if len(lines) != 1 || lines[0] != "test line" {
		t.Fatalf("RecentLines(1) = %v", lines)
	}
	out := buf.String()
	for _, want := range []string{"worker_output", "session_id=room-1", "stream=stderr"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestOutputHandler_ParseLine(t *testing.T) {
	h, _ := newTestHandler(false)
	h.ParseLine("via pipeline")
	if lines := h.RecentLines(1); len(lines) != 1 || lines[0] != "via pipeline" {
		t.Errorf("RecentLines(1) = %v", lines)
	}
}

func TestOutputHandler_HandleLine_Truncation(t *testing.T) {
	h, _ := newTestHandler(true)

	h.HandleLine(strings.Repeat("x", MaxLineLength+100))

	lines := h.RecentLines(1)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if len(lines[0]) > MaxLineLength+20 {
		t.Errorf("Line should be truncated, got length %d", len(lines[0]))
	}
	if !strings.HasSuffix(lines[0], "...(truncated)") {
		t.Error("Truncated line should end with '...(truncated)'")
	}
}

func TestOutputHandler_CircularBuffer(t *testing.T) {
	h, _ := newTestHandler(false)

	for i := 0; i < MaxBufferedLines+50; i++ {
		h.HandleLine(strings.Repeat("x", i+1))
	}

	lines := h.RecentLines(MaxBufferedLines + 10)
	if len(lines) != MaxBufferedLines {
		t.Errorf("Got %d lines, want %d", len(lines), MaxBufferedLines)
	}
	if got := len(lines[len(lines)-1]); got != MaxBufferedLines+50 {
		t.Errorf("newest line length = %d, want %d", got, MaxBufferedLines+50)
	}
}

func TestOutputHandler_RecentLines(t *testing.T) {
	h, _ := newTestHandler(false)

	for i := 0; i < 5; i++ {
		h.HandleLine("line" + string(rune('0'+i)))
	}

	lines := h.RecentLines(3)
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "line2" || lines[1] != "line3" || lines[2] != "line4" {
		t.Errorf("Unexpected lines: %v", lines)
	}

	empty, _ := newTestHandler(false)
	if got := empty.RecentLines(10); len(got) != 0 {
		t.Errorf("Expected 0 lines for empty buffer, got %d", len(got))
	}
}

func TestOutputHandler_ClassifyLine(t *testing.T) {
	h, _ := newTestHandler(true)

	testCases := []struct {
		line     string
		expected slog.Level
	}{
		{"2024-01-01 12:00:00 ERROR livekit.agents: failed to connect", slog.LevelError},
		{"CRITICAL worker crashed", slog.LevelError},
		{"Traceback (most recent call last):", slog.LevelError},
		{"RuntimeError: unhandled exception in task", slog.LevelError},
		{"OSError: [Errno 98] Address already in use", slog.LevelError},
		{"WARNING livekit.agents: slow callback", slog.LevelWarn},
		{"retrying connection in 2s", slog.LevelWarn},
		{"attempting to reconnect", slog.LevelWarn},
		{"INFO livekit.agents: starting worker", slog.LevelDebug},
		{"some random output", slog.LevelDebug},
	}

	for _, tc := range testCases {
		t.Run(tc.line[:min(20, len(tc.line))], func(t *testing.T) {
			if level := h.classifyLine(tc.line); level != tc.expected {
				t.Errorf("classifyLine(%q) = %v, want %v", tc.line, level, tc.expected)
			}
		})
	}
}

func TestOutputHandler_CountErrors(t *testing.T) {
	h, _ := newTestHandler(false)

	h.HandleLine("Traceback (most recent call last):")
	h.HandleLine("Traceback (most recent call last):")
	h.HandleLine("ModuleNotFoundError: No module named 'livekit'")
	h.HandleLine("normal line")
	h.HandleLine("401 Unauthorized")

	counts := h.CountErrors()
	if counts["Traceback"] != 2 {
		t.Errorf("Traceback count = %d, want 2", counts["Traceback"])
	}
	if counts["ModuleNotFoundError"] != 1 {
		t.Errorf("ModuleNotFoundError count = %d, want 1", counts["ModuleNotFoundError"])
	}
	if counts["401"] != 1 {
		t.Errorf("401 count = %d, want 1", counts["401"])
	}

	empty, _ := newTestHandler(false)
	if got := empty.CountErrors(); len(got) != 0 {
		t.Errorf("Expected empty counts, got %v", got)
	}
}

func TestOutputHandler_VerboseLogging(t *testing.T) {
	t.Run("verbose_true", func(t *testing.T) {
		h, buf := newTestHandler(true)
		h.HandleLine("debug line")
		if !strings.Contains(buf.String(), "debug line") {
			t.Error("Verbose mode should log debug lines")
		}
	})

	t.Run("verbose_false", func(t *testing.T) {
		h, buf := newTestHandler(false)
		h.HandleLine("debug line")
		if strings.Contains(buf.String(), "debug line") {
			t.Error("Non-verbose mode should not log debug lines")
		}
	})

	t.Run("verbose_false_logs_errors", func(t *testing.T) {
		h, buf := newTestHandler(false)
		h.HandleLine("ERROR something failed")
		if !strings.Contains(buf.String(), "ERROR something failed") {
			t.Error("Non-verbose mode should still log errors")
		}
	})
}

func TestOutputHandler_HandleReader(t *testing.T) {
	h, _ := newTestHandler(true)

	h.HandleReader(strings.NewReader("line1\nline2\nline3\n"))
	if lines := h.RecentLines(3); len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}

	empty, _ := newTestHandler(true)
	empty.HandleReader(strings.NewReader(""))
	if lines := empty.RecentLines(10); len(lines) != 0 {
		t.Errorf("Expected 0 lines for empty input, got %d", len(lines))
	}
}

func TestOutputHandler_Concurrent(t *testing.T) {
	h, _ := newTestHandler(false)

	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			h.HandleLine("concurrent line")
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = h.RecentLines(10)
			_ = h.CountErrors()
		}
		done <- true
	}()

	<-done
	<-done
}
