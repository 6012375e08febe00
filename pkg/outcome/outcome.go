package outcome

import (
	"strings"

	"golang.org/x/text/cases"
)

// Status is the classified result of a single test.
type Status string

const (
	StatusPassed         Status = "passed"
	StatusFailed         Status = "failed"
	StatusFailedCoreDump Status = "failed_core_dump"
	StatusSkipped        Status = "skipped"
)

// Statuses lists every internal status value.
var Statuses = []Status{
	StatusPassed,
	StatusFailed,
	StatusFailedCoreDump,
	StatusSkipped,
}

// IsFailure reports whether the status represents a failed test.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusFailedCoreDump
}

// DefaultDuration is attached to events when no duration is known.
const DefaultDuration = "0s"

// Event is one classified result produced from a single log line. Ordinal
// and Total are assigned by the scanner; a classifier leaves them zero.
type Event struct {
	Ordinal  int    `json:"ordinal"`
	Total    int    `json:"total"`
	TestName string `json:"test_name"`
	Status   Status `json:"status"`
	Detail   string `json:"detail"`
	Duration string `json:"duration"`
}

var folder = cases.Fold()

// Normalize returns the cross-system join key for a test name: surrounding
// whitespace trimmed and case folded. Local records and remote case titles
// must both go through this function before comparison.
func Normalize(name string) string {
	return folder.String(strings.TrimSpace(name))
}
