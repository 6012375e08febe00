package qase

import (
	"errors"
	"fmt"
)

// Case is a remote test case as returned by the listing endpoint.
type Case struct {
	ID      int64
	Title   string
	SuiteID int64
}

// CaseCreate is the payload for creating a remote test case.
type CaseCreate struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Preconditions  string            `json:"preconditions"`
	Postconditions string            `json:"postconditions"`
	Severity       int               `json:"severity"`
	Priority       int               `json:"priority"`
	SuiteID        int64             `json:"suite_id"`
	CustomFields   map[string]string `json:"custom_fields,omitempty"`
}

// RunCreate is the payload for opening a run. Cases are attached through
// individual result posts, so the list is sent empty.
type RunCreate struct {
	Title   string  `json:"title"`
	SuiteID int64   `json:"suite_id"`
	Cases   []int64 `json:"cases"`
}

// ResultCreate is the payload for posting one case result into a run.
type ResultCreate struct {
	CaseID      int64  `json:"case_id"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

type suiteCreate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// APIError is a non-success answer from the remote service.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}

	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// ErrTimeout marks a remote call that exceeded its per-call timeout.
// Timeouts are transient.
var ErrTimeout = errors.New("remote call timed out")

// StatusCode returns the HTTP status of err, or 0 when err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}
