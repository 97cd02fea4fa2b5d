package parser

import (
	"bytes"
	"strings"
	"sync"
)

// DefaultReadinessPatterns are the stdout substrings that mean the agent
// worker has connected and is serving.
//
// This is an informal contract with the worker's own startup logging. If the
// worker changes those messages, detection silently falls back to the start
// timeout.
var DefaultReadinessPatterns = []string{
	"Agent successfully connected to room",
	"starting worker",
	"registered worker",
}

// ReadinessDetector scans raw output for any of a fixed set of substrings and
// fires once, on the first match. It works on chunks as they are read, so a
// pattern need not be followed by a newline, and it carries the tail of each
// chunk over so a pattern split across two reads still matches.
type ReadinessDetector struct {
	patterns []string
	carry    int // longest pattern length - 1

	once    sync.Once
	ready   chan struct{}
	mu      sync.Mutex
	tail    []byte
	matched string
	excerpt string
}

// NewReadinessDetector creates a detector. Empty patterns are ignored; with
// no usable patterns the detector never fires.
func NewReadinessDetector(patterns []string) *ReadinessDetector {
	usable := make([]string, 0, len(patterns))
	longest := 0
	for _, p := range patterns {
		if p == "" {
			continue
		}
		usable = append(usable, p)
		if len(p) > longest {
			longest = len(p)
		}
	}
	carry := 0
	if longest > 0 {
		carry = longest - 1
	}
	return &ReadinessDetector{
		patterns: usable,
		carry:    carry,
		ready:    make(chan struct{}),
	}
}

// Write implements io.Writer. It never fails, so it can sit behind an
// io.TeeReader without disturbing the reader.
func (d *ReadinessDetector) Write(p []byte) (int, error) {
	if len(d.patterns) == 0 || d.Fired() {
		return len(p), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	window := make([]byte, 0, len(d.tail)+len(p))
	window = append(window, d.tail...)
	window = append(window, p...)

	for _, pattern := range d.patterns {
		i := bytes.Index(window, []byte(pattern))
		if i < 0 {
			continue
		}
		d.once.Do(func() {
			d.matched = pattern
			d.excerpt = lineAround(window, i, len(pattern))
			d.tail = nil
			close(d.ready)
		})
		return len(p), nil
	}

	if len(window) > d.carry {
		window = window[len(window)-d.carry:]
	}
	d.tail = append(d.tail[:0], window...)
	return len(p), nil
}

// lineAround returns the text of the line holding window[i:i+n], bounded by
// the window.
func lineAround(window []byte, i, n int) string {
	start := bytes.LastIndexByte(window[:i], '\n') + 1
	end := len(window)
	if j := bytes.IndexByte(window[i+n:], '\n'); j >= 0 {
		end = i + n + j
	}
	return strings.TrimRight(string(window[start:end]), "\r")
}

// Ready is closed on the first match.
func (d *ReadinessDetector) Ready() <-chan struct{} {
	return d.ready
}

// Fired reports whether a match has been seen.
func (d *ReadinessDetector) Fired() bool {
	select {
	case <-d.ready:
		return true
	default:
		return false
	}
}

// Match returns the pattern that fired the detector and the output line
// around it, as far as it had been read.
func (d *ReadinessDetector) Match() (pattern, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matched, d.excerpt
}
