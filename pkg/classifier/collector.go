package classifier

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Collector intercepts a live output stream (for example a test runner's
// combined stdout/stderr), passes it through to a downstream writer, and
// keeps the lines that classify so they can be scanned afterwards.
type Collector interface {
	// Writer returns an io.Writer that intercepts output, classifies
	// complete lines, and passes the bytes through to the downstream writer.
	Writer() io.Writer

	// Flush classifies a trailing line that was not newline-terminated.
	Flush()

	// Lines returns the retained classifiable lines in arrival order.
	Lines() []string
}

// NewCollector creates a new collector with the given classifier and
// downstream writer. A nil downstream discards the pass-through.
func NewCollector(classifier Classifier, downstream io.Writer) Collector {
	return &collector{
		classifier: classifier,
		downstream: downstream,
		lines:      make([]string, 0, 256),
	}
}

type collector struct {
	classifier Classifier
	downstream io.Writer

	mu      sync.Mutex
	lineBuf []byte
	lines   []string
}

// Ensure interface compliance.
var _ Collector = (*collector)(nil)

// Writer returns an io.Writer that intercepts and classifies lines.
func (c *collector) Writer() io.Writer {
	return &collectorWriter{collector: c}
}

// Flush processes any buffered partial line.
func (c *collector) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lineBuf) == 0 {
		return
	}

	c.keep(string(c.lineBuf))
	c.lineBuf = nil
}

// Lines returns a copy of the retained lines.
func (c *collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.lines))
	copy(out, c.lines)

	return out
}

// keep retains the line when it classifies. Callers hold mu.
func (c *collector) keep(line string) {
	line = strings.TrimRight(line, "\r")

	if _, ok := c.classifier.Classify(line); ok {
		c.lines = append(c.lines, line)
	}
}

// collectorWriter implements io.Writer and wraps the collector.
type collectorWriter struct {
	collector *collector
}

// Ensure interface compliance.
var _ io.Writer = (*collectorWriter)(nil)

// Write implements io.Writer.
func (w *collectorWriter) Write(p []byte) (n int, err error) {
	n = len(p)

	if w.collector.downstream != nil {
		if _, err := w.collector.downstream.Write(p); err != nil {
			return n, err
		}
	}

	w.collector.mu.Lock()
	defer w.collector.mu.Unlock()

	w.collector.lineBuf = append(w.collector.lineBuf, p...)

	for {
		idx := bytes.IndexByte(w.collector.lineBuf, '\n')
		if idx == -1 {
			break
		}

		line := string(w.collector.lineBuf[:idx])
		w.collector.lineBuf = w.collector.lineBuf[idx+1:]

		w.collector.keep(line)
	}

	return n, nil
}
