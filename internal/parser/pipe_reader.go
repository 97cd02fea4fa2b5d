package parser

import (
	"bufio"
	"io"
	"sync/atomic"
)

// maxLineSize bounds a single line; longer lines end the scan.
const maxLineSize = 1024 * 1024

// PipeReader reads a worker's stdout or stderr pipe and feeds its lines to a
// Pipeline. Taps receive every raw chunk as it is read, before line
// splitting, so they see output that has no trailing newline yet.
//
// Run keeps reading until EOF even after every tap has lost interest, so the
// worker never blocks on a full OS pipe buffer.
type PipeReader struct {
	reader   io.Reader
	pipeline *Pipeline
	done     chan struct{}

	bytesRead atomic.Int64
	linesRead atomic.Int64
	readErr   atomic.Value // error
}

// NewPipeReader creates a reader for r. Taps must not block.
func NewPipeReader(r io.Reader, pipeline *Pipeline, taps ...io.Writer) *PipeReader {
	p := &PipeReader{
		pipeline: pipeline,
		done:     make(chan struct{}),
	}
	src := io.Reader(&countingReader{r: r, n: &p.bytesRead})
	if len(taps) > 0 {
		src = io.TeeReader(src, io.MultiWriter(taps...))
	}
	p.reader = src
	return p
}

// Run reads lines until EOF. It closes the pipeline channel and Done on exit.
func (p *PipeReader) Run() {
	defer close(p.done)
	defer p.pipeline.CloseChannel()

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		p.linesRead.Add(1)
		p.pipeline.FeedLine(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		p.readErr.Store(err)
		// Keep the pipe drained; a line over maxLineSize stops the scanner.
		io.Copy(io.Discard, p.reader)
	}
}

// Done is closed once Run has returned.
func (p *PipeReader) Done() <-chan struct{} {
	return p.done
}

// Err returns the scanner error that ended Run early, if any.
func (p *PipeReader) Err() error {
	if err, ok := p.readErr.Load().(error); ok {
		return err
	}
	return nil
}

// Pipeline returns the pipeline this reader feeds.
func (p *PipeReader) Pipeline() *Pipeline {
	return p.pipeline
}

// Stats returns the bytes and complete lines read so far.
func (p *PipeReader) Stats() (bytesRead, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n.Add(int64(n))
	return n, err
}
