package scanner

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethpandaops/resultoor/pkg/outcome"
)

// Report is the result of scanning one log source.
type Report struct {
	Variant outcome.Variant
	Events  []outcome.Event
	Total   int
}

func newReport(variant outcome.Variant, events []outcome.Event) *Report {
	total := len(events)
	for i := range events {
		events[i].Total = total
	}

	return &Report{
		Variant: variant,
		Events:  events,
		Total:   total,
	}
}

// FormatEvent renders an event as "k/total - name, status, Duration: d".
// Non-passed events append their detail in parentheses.
func FormatEvent(ev outcome.Event) string {
	line := fmt.Sprintf("%d/%d - %s, %s, Duration: %s",
		ev.Ordinal, ev.Total, ev.TestName, ev.Status, ev.Duration)

	if ev.Status != outcome.StatusPassed && ev.Detail != "" {
		line += fmt.Sprintf(", (%s)", ev.Detail)
	}

	return line
}

// Lines returns every event formatted with FormatEvent.
func (r *Report) Lines() []string {
	lines := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		lines = append(lines, FormatEvent(ev))
	}

	return lines
}

// Summary returns the total line printed after the formatted events.
func (r *Report) Summary() string {
	return fmt.Sprintf("Total Cases: %d", r.Total)
}

// Counts returns the number of events per status.
func (r *Report) Counts() map[outcome.Status]int {
	counts := make(map[outcome.Status]int, len(outcome.Statuses))
	for _, ev := range r.Events {
		counts[ev.Status]++
	}

	return counts
}

// WriteTo writes the formatted lines followed by the summary.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	for _, line := range r.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString(r.Summary())
	b.WriteByte('\n')

	n, err := io.WriteString(w, b.String())

	return int64(n), err
}
