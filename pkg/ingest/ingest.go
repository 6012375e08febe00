// Package ingest persists scanned outcome events into the outcome store
// using the ingest path of their variant.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/ethpandaops/resultoor/pkg/scanner"
	"github.com/ethpandaops/resultoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrMerge is returned when a staged merge failed and was rolled back.
var ErrMerge = errors.New("staged merge failed")

// Result counts what an ingest did.
type Result struct {
	Variant    outcome.Variant
	Scanned    int
	Inserted   int
	Updated    int
	Duplicates int
	// Processed counts events skipped because a processed record for the
	// same name already existed.
	Processed int
}

// Ingester writes scan reports into a store.
type Ingester struct {
	log   logrus.FieldLogger
	store store.Store
	now   func() time.Time
}

// New creates an Ingester.
func New(log logrus.FieldLogger, s store.Store) *Ingester {
	return &Ingester{
		log:   log.WithField("component", "ingest"),
		store: s,
		now:   time.Now,
	}
}

// Ingest persists every event of report. History-mode variants go through
// one atomic staged merge; latest-mode variants use insert-if-new.
func (i *Ingester) Ingest(ctx context.Context, report *scanner.Report) (*Result, error) {
	result := &Result{
		Variant: report.Variant,
		Scanned: len(report.Events),
	}

	if !report.Variant.IsValid() {
		return result, fmt.Errorf("unknown variant %q", report.Variant)
	}

	var err error
	if report.Variant.UsesStagedMerge() {
		err = i.ingestStaged(ctx, report, result)
	} else {
		err = i.ingestDirect(ctx, report, result)
	}

	if err != nil {
		return result, err
	}

	i.log.WithFields(logrus.Fields{
		"variant":    result.Variant,
		"scanned":    result.Scanned,
		"inserted":   result.Inserted,
		"duplicates": result.Duplicates,
		"processed":  result.Processed,
	}).Info("Ingested scan report")

	return result, nil
}

func (i *Ingester) ingestDirect(ctx context.Context, report *scanner.Report, result *Result) error {
	recordedAt := i.now()

	for _, ev := range report.Events {
		res, err := i.store.InsertIfNew(ctx, store.NewRecord(report.Variant, ev, recordedAt))
		if err != nil {
			return fmt.Errorf("ingesting %q: %w", ev.TestName, err)
		}

		if res == store.Inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	return nil
}

// ingestStaged stages every event whose name has not been processed yet and
// merges the batch. All events of one scan share one timestamp.
func (i *Ingester) ingestStaged(ctx context.Context, report *scanner.Report, result *Result) error {
	var (
		stage      = i.store.NewStage(report.Variant)
		recordedAt = i.now()
		staged     int
	)

	for _, ev := range report.Events {
		done, err := i.store.ExistsProcessed(ctx, report.Variant, ev.TestName)
		if err != nil {
			i.discard(stage)

			return fmt.Errorf("ingesting %q: %w", ev.TestName, err)
		}

		if done {
			result.Processed++

			continue
		}

		added, err := stage.Add(ctx, store.NewRecord(report.Variant, ev, recordedAt))
		if err != nil {
			i.discard(stage)

			return fmt.Errorf("ingesting %q: %w", ev.TestName, err)
		}

		if added {
			staged++
		} else {
			result.Duplicates++
		}
	}

	if staged == 0 {
		return nil
	}

	merged, err := stage.Merge(ctx)
	if err != nil {
		i.discard(stage)

		return fmt.Errorf("%w: %w", ErrMerge, err)
	}

	result.Inserted = int(merged.Inserted)
	result.Updated = int(merged.Updated)
	result.Duplicates += staged - result.Inserted

	return nil
}

func (i *Ingester) discard(stage store.Stage) {
	// The caller's context may already be done.
	if err := stage.Discard(context.Background()); err != nil {
		i.log.WithError(err).WithField("batch", stage.ID()).Warn("Failed to discard staged batch")
	}
}
