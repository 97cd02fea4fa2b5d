// Package parser provides lossy line pipelines for worker output.
//
// A worker that writes faster than its output can be logged must never be
// blocked on a full pipe, so lines are dropped rather than queued without
// bound.
//
// Three-Layer Architecture:
//
//	Layer 1 (Reader): Reads lines fast, drops if channel full - never blocks
//	Layer 2 (Parser): Consumes from channel at own pace
//	Layer 3 (Taps):   Writers fed every raw chunk the reader pulls off the pipe
//
// Taps see all output, including lines the channel drops and a final line
// with no newline. Readiness detection runs as a tap.
package parser

import (
	"sync"
	"sync/atomic"
)

// LineParser consumes one line of worker output.
type LineParser interface {
	ParseLine(line string)
}

// Pipeline implements the lossy reader/parser split for one stream.
//
// It reads lines from an io.Reader into a bounded channel. If the parser
// cannot keep up, lines are dropped rather than blocking the worker.
type Pipeline struct {
	sessionID  string
	streamType string // "stdout" or "stderr"
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once // Ensures CloseChannel() is idempotent

	// Pipeline health metrics (atomic for concurrent access)
	linesRead    int64
	linesDropped int64
	linesParsed  int64

	// Configurable threshold for degradation detection
	dropThreshold float64
}

// NewPipeline creates a pipeline for one output stream of a session's
// worker. The stream counts as degraded once more than dropThreshold of its
// lines have been dropped.
func NewPipeline(sessionID, streamType string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000 // Default
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01 // Default 1%
	}

	return &Pipeline{
		sessionID:     sessionID,
		streamType:    streamType,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues a line for the parser without blocking. It reports
// whether the line was queued; a full channel drops it.
func (p *Pipeline) FeedLine(line string) bool {
	atomic.AddInt64(&p.linesRead, 1)

	select {
	case p.lineChan <- line:
		return true
	default:
		// Channel full - drop intentionally to avoid blocking the worker
		atomic.AddInt64(&p.linesDropped, 1)
		return false
	}
}

// CloseChannel closes the line channel, signaling the parser to stop.
// It is called by the data source at EOF; RunParser returns afterwards.
// Safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser hands queued lines to parser until the channel is closed.
// Run it in its own goroutine.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		parser.ParseLine(line)
		atomic.AddInt64(&p.linesParsed, 1)
	}
}

// Stats returns lines fed, dropped on a full channel and handed to the parser.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return atomic.LoadInt64(&p.linesRead),
		atomic.LoadInt64(&p.linesDropped),
		atomic.LoadInt64(&p.linesParsed)
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := atomic.LoadInt64(&p.linesRead)
	if read == 0 {
		return 0
	}
	dropped := atomic.LoadInt64(&p.linesDropped)
	return float64(dropped) / float64(read)
}

// IsDegraded returns true if drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// SessionID returns the session this pipeline belongs to.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// StreamType returns "stdout" or "stderr".
func (p *Pipeline) StreamType() string {
	return p.streamType
}
