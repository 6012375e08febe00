package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/ethpandaops/resultoor/pkg/qase"
	"github.com/ethpandaops/resultoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrSuiteCreate is returned when a missing suite could not be created.
var ErrSuiteCreate = errors.New("creating suite failed")

// ErrSuiteCheck is returned when suite existence could not be determined.
var ErrSuiteCheck = errors.New("checking suite failed")

// DefaultPageSize is the case listing page size.
const DefaultPageSize = 100

// runTitleLayout is appended to the configured run name.
const runTitleLayout = "2006-01-02 15:04:05"

// Case creation defaults.
const (
	caseSeverity = 3
	casePriority = 2
	notAvailable = "N/A"
)

// CaseMap maps a normalized case title to its remote id.
type CaseMap map[string]int64

// Lookup resolves name through normalization.
func (m CaseMap) Lookup(name string) (int64, bool) {
	id, ok := m[outcome.Normalize(name)]

	return id, ok
}

// Options configures a Reconciler.
type Options struct {
	PageSize int
	// SuiteDescription is sent when a suite has to be created.
	SuiteDescription string
	// Now is used for run titles. Defaults to time.Now.
	Now func() time.Time
}

// Reconciler synchronizes durable outcome records with the remote service.
// Calls are strictly sequential.
type Reconciler struct {
	log    logrus.FieldLogger
	client qase.Client
	opts   Options
}

// New creates a Reconciler.
func New(log logrus.FieldLogger, client qase.Client, opts Options) *Reconciler {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.SuiteDescription == "" {
		opts.SuiteDescription = "Created by resultoor"
	}

	return &Reconciler{
		log:    log.WithField("component", "reconciler"),
		client: client,
		opts:   opts,
	}
}

// EnsureSuite returns suiteID when that suite exists, or creates a suite
// named name and returns its new id. created reports which happened so the
// caller can persist the new id.
func (r *Reconciler) EnsureSuite(
	ctx context.Context, suiteID int64, name string,
) (id int64, created bool, err error) {
	exists, err := r.client.SuiteExists(ctx, suiteID)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrSuiteCheck, err)
	}

	if exists {
		return suiteID, false, nil
	}

	r.log.WithFields(logrus.Fields{
		"suite_id": suiteID,
		"name":     name,
	}).Info("Suite not found, creating it")

	newID, err := r.client.CreateSuite(ctx, name, r.opts.SuiteDescription)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrSuiteCreate, err)
	}

	return newID, true, nil
}

// ListCases pages through the suite's remote cases until an empty page.
// A failing page stops pagination; what was aggregated so far is returned
// with complete set to false.
func (r *Reconciler) ListCases(ctx context.Context, suiteID int64) (cases CaseMap, complete bool) {
	cases = make(CaseMap, r.opts.PageSize)

	for offset := 0; ; offset += r.opts.PageSize {
		page, err := r.client.ListCases(ctx, suiteID, r.opts.PageSize, offset)
		if err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"suite_id": suiteID,
				"offset":   offset,
				"known":    len(cases),
			}).Warn("Case listing failed, continuing with partial case map")

			return cases, false
		}

		if len(page) == 0 {
			return cases, true
		}

		for _, c := range page {
			cases[outcome.Normalize(c.Title)] = c.ID
		}
	}
}

// CreateResult counts the outcome of CreateMissingCases.
type CreateResult struct {
	Created int
	Failed  int
}

// CreateMissingCases creates a remote case for every record whose normalized
// name is absent from cases. Created ids are added to cases, so each name is
// created at most once. A failure is counted and the batch continues.
func (r *Reconciler) CreateMissingCases(
	ctx context.Context, records []store.Record, cases CaseMap, suiteID int64,
) CreateResult {
	var result CreateResult

	for i := range records {
		rec := &records[i]

		name := outcome.Normalize(rec.TestName)
		if _, ok := cases[name]; ok {
			continue
		}

		id, err := r.client.CreateCase(ctx, casePayload(rec, name, suiteID))
		if err != nil {
			result.Failed++

			r.log.WithError(err).WithField("test", name).Warn("Failed to create case")

			continue
		}

		cases[name] = id
		result.Created++

		r.log.WithFields(logrus.Fields{
			"test":    name,
			"case_id": id,
		}).Debug("Created case")
	}

	return result
}

func casePayload(rec *store.Record, title string, suiteID int64) *qase.CaseCreate {
	return &qase.CaseCreate{
		Title: title,
		Description: fmt.Sprintf("%s -- %s, Duration: %s",
			rec.Status, rec.Detail, rec.Duration),
		Preconditions:  notAvailable,
		Postconditions: notAvailable,
		Severity:       caseSeverity,
		Priority:       casePriority,
		SuiteID:        suiteID,
		CustomFields: map[string]string{
			"details":  rec.Detail,
			"duration": rec.Duration,
		},
	}
}

// RunTitle appends the current timestamp to base.
func (r *Reconciler) RunTitle(base string) string {
	return fmt.Sprintf("%s - %s", base, r.opts.Now().Format(runTitleLayout))
}

// OpenRun creates a run with an empty case list and a timestamped title.
func (r *Reconciler) OpenRun(ctx context.Context, suiteID int64, base string) (int64, string, error) {
	title := r.RunTitle(base)

	id, err := r.client.CreateRun(ctx, &qase.RunCreate{
		Title:   title,
		SuiteID: suiteID,
		Cases:   []int64{},
	})
	if err != nil {
		return 0, title, fmt.Errorf("opening run: %w", err)
	}

	return id, title, nil
}

// PostResult posts one case result into an open run.
func (r *Reconciler) PostResult(
	ctx context.Context, runID, caseID int64, status outcome.Status, description string,
) error {
	return r.client.PostResult(ctx, runID, &qase.ResultCreate{
		CaseID:      caseID,
		Status:      MapStatus(status),
		Description: description,
	})
}

// CloseRun marks the run complete. Callers treat failure as non-fatal.
func (r *Reconciler) CloseRun(ctx context.Context, runID int64) error {
	return r.client.CompleteRun(ctx, runID)
}

// latestPerName keeps the newest record of every normalized name, in order
// of first appearance. Newest means the latest recorded time, then the
// highest event ordinal within that scan. Full ties keep the later input.
func latestPerName(records []store.Record) []store.Record {
	index := make(map[string]int, len(records))
	out := make([]store.Record, 0, len(records))

	for _, rec := range records {
		name := outcome.Normalize(rec.TestName)
		if i, ok := index[name]; ok {
			if newer(&rec, &out[i]) {
				out[i] = rec
			}

			continue
		}

		index[name] = len(out)
		out = append(out, rec)
	}

	return out
}

func newer(a, b *store.Record) bool {
	if a.RecordedAt != b.RecordedAt {
		return a.RecordedAt > b.RecordedAt
	}

	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}

	return a.ID >= b.ID
}

func resultDescription(rec *store.Record) string {
	duration := rec.Duration
	if duration == "" {
		duration = notAvailable
	}

	return fmt.Sprintf("%s %s, Duration: %s",
		outcome.Normalize(rec.TestName), MapStatus(outcome.Status(rec.Status)), duration)
}
