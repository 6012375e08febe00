package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/ethpandaops/resultoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Pass describes one reconciliation pass for a variant.
type Pass struct {
	Variant   outcome.Variant
	SuiteID   int64
	SuiteName string
	RunName   string
	Records   []store.Record
	// PublishRun opens a run, posts results and closes it after cases
	// have been reconciled.
	PublishRun bool
}

// Summary is the aggregate outcome of a pass. It is always produced, even
// when the pass stops early.
type Summary struct {
	Variant        outcome.Variant
	SuiteID        int64
	SuiteCreated   bool
	CasesKnown     int
	ListingPartial bool
	CasesCreated   int
	CasesFailed    int
	RunID          int64
	RunTitle       string
	RunOpenFailed  bool
	ResultsPosted  int
	ResultsFailed  int
	ResultsNoCase  int
	RunClosed      bool
	Elapsed        time.Duration
}

// OK reports whether every remote operation of the pass succeeded.
func (s *Summary) OK() bool {
	if s.ListingPartial || s.CasesFailed > 0 || s.RunOpenFailed || s.ResultsFailed > 0 {
		return false
	}

	return s.RunID == 0 || s.RunClosed
}

// String renders a one-line human summary.
func (s *Summary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: suite %d", s.Variant, s.SuiteID)

	if s.SuiteCreated {
		b.WriteString(" (created)")
	}

	if s.CasesCreated == 0 && s.CasesFailed == 0 {
		b.WriteString(", all test cases already exist")
	} else {
		fmt.Fprintf(&b, ", %d new test cases created", s.CasesCreated)
	}

	if s.CasesFailed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.CasesFailed)
	}

	if s.RunID != 0 {
		fmt.Fprintf(&b, ", run %d: %d results posted", s.RunID, s.ResultsPosted)

		if s.ResultsFailed > 0 {
			fmt.Fprintf(&b, ", %d failed", s.ResultsFailed)
		}

		if !s.RunClosed {
			b.WriteString(", run left open")
		}
	}

	fmt.Fprintf(&b, " in %s", units.HumanDuration(s.Elapsed))

	if s.OK() {
		b.WriteString(". Update status successfully.")
	} else {
		b.WriteString(". Some updates failed.")
	}

	return b.String()
}

// Reconcile runs one strictly ordered pass: ensure the suite, list cases,
// create missing cases and optionally publish a run. Only suite failures
// are returned as errors; the summary is non-nil in every case.
func (r *Reconciler) Reconcile(ctx context.Context, pass Pass) (*Summary, error) {
	started := time.Now()

	summary := &Summary{
		Variant: pass.Variant,
		SuiteID: pass.SuiteID,
	}

	defer func() { summary.Elapsed = time.Since(started) }()

	log := r.log.WithField("variant", pass.Variant)

	suiteID, created, err := r.EnsureSuite(ctx, pass.SuiteID, pass.SuiteName)
	if err != nil {
		return summary, err
	}

	summary.SuiteID = suiteID
	summary.SuiteCreated = created

	cases, complete := r.ListCases(ctx, suiteID)
	summary.CasesKnown = len(cases)
	summary.ListingPartial = !complete

	creation := r.CreateMissingCases(ctx, pass.Records, cases, suiteID)
	summary.CasesCreated = creation.Created
	summary.CasesFailed = creation.Failed

	if pass.PublishRun {
		r.publish(ctx, log, pass, suiteID, cases, summary)
	}

	log.WithFields(logrus.Fields{
		"suite_id":       summary.SuiteID,
		"cases_created":  summary.CasesCreated,
		"cases_failed":   summary.CasesFailed,
		"results_posted": summary.ResultsPosted,
		"results_failed": summary.ResultsFailed,
	}).Info("Reconciliation pass finished")

	return summary, nil
}

func (r *Reconciler) publish(
	ctx context.Context,
	log logrus.FieldLogger,
	pass Pass,
	suiteID int64,
	cases CaseMap,
	summary *Summary,
) {
	runID, title, err := r.OpenRun(ctx, suiteID, pass.RunName)
	summary.RunTitle = title

	if err != nil {
		summary.RunOpenFailed = true

		log.WithError(err).Warn("Failed to open run")

		return
	}

	summary.RunID = runID

	log.WithFields(logrus.Fields{
		"run_id": runID,
		"title":  title,
	}).Info("Opened run")

	for _, rec := range latestPerName(pass.Records) {
		caseID, ok := cases.Lookup(rec.TestName)
		if !ok {
			summary.ResultsNoCase++

			continue
		}

		if err := r.PostResult(ctx, runID, caseID,
			outcome.Status(rec.Status), resultDescription(&rec)); err != nil {
			summary.ResultsFailed++

			log.WithError(err).WithField("case_id", caseID).Warn("Failed to post result")

			continue
		}

		summary.ResultsPosted++
	}

	if err := r.CloseRun(ctx, runID); err != nil {
		log.WithError(err).WithField("run_id", runID).Warn("Failed to complete run")

		return
	}

	summary.RunClosed = true
}
