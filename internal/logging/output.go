package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines to buffer per stream.
	MaxBufferedLines = 100
)

// OutputHandler logs one output stream of a worker process and keeps the
// most recent lines for failure reports.
type OutputHandler struct {
	sessionID string
	stream    string
	logger    *slog.Logger
	verbose   bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler for the named stream ("stdout" or
// "stderr") of a session's worker.
func NewOutputHandler(sessionID, stream string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		sessionID: sessionID,
		stream:    stream,
		logger:    logger,
		verbose:   verbose,
		buffer:    make([]string, MaxBufferedLines),
	}
}

// HandleReader reads from an io.Reader and processes each line.
// This should be run in a goroutine.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, MaxLineLength)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// ParseLine lets the handler sit at the end of a parser pipeline.
func (h *OutputHandler) ParseLine(line string) {
	h.HandleLine(line)
}

// HandleLine processes a single line of worker output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

// logLine logs the line at appropriate level based on content.
func (h *OutputHandler) logLine(line string) {
	level := h.classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "worker_output",
		"session_id", h.sessionID,
		"stream", h.stream,
		"line", line,
	)
}

// classifyLine maps Python logging output to a log level.
func (h *OutputHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Error patterns
	if strings.Contains(line, "ERROR") ||
		strings.Contains(line, "CRITICAL") ||
		strings.HasPrefix(line, "Traceback") ||
		strings.Contains(lower, "exception") ||
		strings.Contains(lower, "address already in use") {
		return slog.LevelError
	}

	// Warning patterns
	if strings.Contains(line, "WARNING") ||
		strings.Contains(lower, "retrying") ||
		strings.Contains(lower, "reconnect") {
		return slog.LevelWarn
	}

	// Default to debug
	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	// Read from circular buffer in order
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are common worker failure patterns counted for the exit summary.
var ErrorPatterns = []string{
	"Traceback",
	"ModuleNotFoundError",
	"ConnectionError",
	"address already in use",
	"401",
	"403",
	"timeout",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
