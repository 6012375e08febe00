package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethpandaops/resultoor/pkg/classifier"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/sirupsen/logrus"
)

// ErrSourceNotFound is returned when the log source does not exist.
var ErrSourceNotFound = errors.New("log source not found")

// maxLineSize bounds a single log line. Longer lines are skipped.
const maxLineSize = 1024 * 1024

// ctxCheckInterval is how many lines are read between context checks.
const ctxCheckInterval = 1024

// Scanner turns a log source into an ordered, numbered sequence of events.
type Scanner interface {
	// Scan reads r top to bottom and classifies every line.
	Scan(ctx context.Context, r io.Reader) (*Report, error)

	// ScanFile scans the file at path. A missing file returns an empty
	// report with a total of zero together with ErrSourceNotFound.
	ScanFile(ctx context.Context, path string) (*Report, error)

	// ScanLines scans already-collected lines.
	ScanLines(lines []string) *Report
}

// Compile-time interface check.
var _ Scanner = (*scanner)(nil)

type scanner struct {
	log        logrus.FieldLogger
	classifier classifier.Classifier
}

// NewScanner creates a scanner using the given classifier.
func NewScanner(log logrus.FieldLogger, c classifier.Classifier) Scanner {
	return &scanner{
		log: log.WithFields(logrus.Fields{
			"component": "scanner",
			"variant":   c.Variant(),
		}),
		classifier: c,
	}
}

// ScanFile opens path and scans it.
func (s *scanner) ScanFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		empty := newReport(s.classifier.Variant(), nil)

		if errors.Is(err, os.ErrNotExist) {
			return empty, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}

		return empty, fmt.Errorf("opening log source: %w", err)
	}
	defer func() { _ = f.Close() }()

	report, err := s.Scan(ctx, f)
	if err != nil {
		return report, err
	}

	s.log.WithFields(logrus.Fields{
		"path":  path,
		"total": report.Total,
	}).Debug("Scanned log file")

	return report, nil
}

// Scan classifies every line of r in a single pass. Events are buffered and
// the total is patched into each of them once the source is exhausted.
func (s *scanner) Scan(ctx context.Context, r io.Reader) (*Report, error) {
	var (
		state   = newScanState(s.classifier)
		br      = bufio.NewReaderSize(r, 64*1024)
		n       int
		skipped int
	)

	for {
		line, ok, err := readLine(br)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return newReport(s.classifier.Variant(), nil), fmt.Errorf("reading log source: %w", err)
		}

		n++
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return newReport(s.classifier.Variant(), nil), err
			}
		}

		if !ok {
			skipped++

			continue
		}

		state.feed(line)
	}

	if skipped > 0 {
		s.log.WithField("lines", skipped).Warn("Skipped oversized log lines")
	}

	return newReport(s.classifier.Variant(), state.events), nil
}

// readLine returns the next line without its newline. ok is false for a
// line longer than maxLineSize, which is consumed but not returned. io.EOF
// is only returned once no data is left.
func readLine(br *bufio.Reader) (string, bool, error) {
	var (
		buf     []byte
		read    bool
		tooLong bool
	)

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}

		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !read {
				return "", false, io.EOF
			}
		case err != nil:
			return "", false, err
		}

		if tooLong {
			return "", false, nil
		}

		return strings.TrimSuffix(string(buf), "\n"), true, nil
	}
}

// ScanLines classifies the given lines in order.
func (s *scanner) ScanLines(lines []string) *Report {
	state := newScanState(s.classifier)

	for _, line := range lines {
		state.feed(line)
	}

	return newReport(s.classifier.Variant(), state.events)
}

// scanState carries the duration context across lines.
type scanState struct {
	classifier classifier.Classifier
	duration   string
	events     []outcome.Event
}

func newScanState(c classifier.Classifier) *scanState {
	return &scanState{
		classifier: c,
		duration:   outcome.DefaultDuration,
		events:     make([]outcome.Event, 0, 128),
	}
}

// feed classifies one line. A duration marker is carried forward to the
// next event that has no duration of its own, then the context resets.
func (st *scanState) feed(line string) {
	m, ok := st.classifier.Classify(strings.TrimRight(line, "\r"))
	if !ok {
		return
	}

	switch m.Kind {
	case classifier.MatchDuration:
		st.duration = m.Duration
	case classifier.MatchEvent:
		ev := m.Event
		if ev.Duration == "" {
			ev.Duration = st.duration
			st.duration = outcome.DefaultDuration
		}

		ev.Ordinal = len(st.events) + 1
		st.events = append(st.events, ev)
	}
}
