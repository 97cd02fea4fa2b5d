package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"Debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		level   string
		verbose bool
		debug   bool
	}{
		{"json info", "json", "info", false, false},
		{"text warn", "text", "warn", false, false},
		{"unknown format", "logfmt", "info", false, false},
		{"verbose overrides level", "json", "error", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.format, tt.level, tt.verbose)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debug {
				t.Errorf("debug enabled = %v, want %v", got, tt.debug)
			}
		})
	}
}

func TestNewLoggerWithWriter_JSONEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "json", "info")
	logger.Info("worker_started", "session_id", "room-42", "pid", 4242)

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}

	tests := []struct {
		key  string
		got  interface{}
		want interface{}
	}{
		{"msg", rec["msg"], "worker_started"},
		{"session_id", rec["session_id"], "room-42"},
		{"pid", rec["pid"], float64(4242)},
		{"level", rec["level"], "INFO"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, tt.got, tt.want)
		}
	}
}

func TestNewLoggerWithWriter_TextFallback(t *testing.T) {
	for _, format := range []string{"text", "", "logfmt"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLoggerWithWriter(&buf, format, "").Info("start_resolved", "ready", false)

			out := buf.String()
			if strings.HasPrefix(strings.TrimSpace(out), "{") {
				t.Errorf("expected text output, got %q", out)
			}
			if !strings.Contains(out, "msg=start_resolved") || !strings.Contains(out, "ready=false") {
				t.Errorf("unexpected output %q", out)
			}
		})
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	emit := func(l *slog.Logger) {
		l.Debug("readiness_matched")
		l.Info("worker_started")
		l.Warn("cleanup_failed")
		l.Error("worker_kill_failed")
	}

	tests := []struct {
		level   string
		present []string
		absent  []string
	}{
		{"debug", []string{"readiness_matched", "worker_started", "cleanup_failed", "worker_kill_failed"}, nil},
		{"info", []string{"worker_started", "cleanup_failed"}, []string{"readiness_matched"}},
		{"warn", []string{"cleanup_failed", "worker_kill_failed"}, []string{"worker_started"}},
		{"error", []string{"worker_kill_failed"}, []string{"cleanup_failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			emit(NewLoggerWithWriter(&buf, "text", tt.level))
			out := buf.String()
			for _, msg := range tt.present {
				if !strings.Contains(out, msg) {
					t.Errorf("missing %s", msg)
				}
			}
			for _, msg := range tt.absent {
				if strings.Contains(out, msg) {
					t.Errorf("unexpected %s", msg)
				}
			}
		})
	}
}

func TestSetDefault(t *testing.T) {
	orig := slog.Default()
	defer slog.SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))
	slog.Info("api_server_starting")

	if !strings.Contains(buf.String(), "api_server_starting") {
		t.Error("SetDefault did not replace the default logger")
	}
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not enable any level")
	}
	logger.Error("dropped")
}

func TestValidFormat(t *testing.T) {
	tests := []struct {
		format string
		want   bool
	}{
		{"json", true},
		{"TEXT", true},
		{"", false},
		{"logfmt", false},
	}
	for _, tt := range tests {
		if got := ValidFormat(tt.format); got != tt.want {
			t.Errorf("ValidFormat(%q) = %v, want %v", tt.format, got, tt.want)
		}
	}
}
