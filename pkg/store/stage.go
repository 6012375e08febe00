package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MergeResult reports the row counts of a successful merge.
type MergeResult struct {
	Updated  int64
	Inserted int64
}

// Stage is a batch of records staged for one all-or-nothing merge into the
// durable table.
type Stage interface {
	// ID returns the batch id.
	ID() string

	// Add stages rec. It reports false when the batch already held a
	// record with the same key, which is then replaced.
	Add(ctx context.Context, rec *Record) (bool, error)

	// Len returns the number of distinct keys staged.
	Len() int

	// Merge updates durable records matching staged keys, inserts staged
	// records without a durable counterpart, marks every merged record
	// processed and drops the batch. On any error nothing is applied.
	Merge(ctx context.Context) (*MergeResult, error)

	// Discard drops the batch without merging.
	Discard(ctx context.Context) error
}

var _ Stage = (*stage)(nil)

type stage struct {
	log     logrus.FieldLogger
	db      *gorm.DB
	id      string
	variant outcome.Variant

	mu   sync.Mutex
	keys map[string]struct{}
}

func (s *store) NewStage(variant outcome.Variant) Stage {
	id := uuid.NewString()

	return &stage{
		log: s.log.WithFields(logrus.Fields{
			"batch":   id,
			"variant": variant,
		}),
		db:      s.db,
		id:      id,
		variant: variant,
		keys:    make(map[string]struct{}, 64),
	}
}

func (st *stage) ID() string { return st.id }

func (st *stage) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	return len(st.keys)
}

func (st *stage) Add(ctx context.Context, rec *Record) (bool, error) {
	if rec.Variant != string(st.variant) {
		return false, fmt.Errorf("staging %s record in %s batch", rec.Variant, st.variant)
	}

	if err := st.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec.staged(st.id)).Error; err != nil {
		return false, fmt.Errorf("staging record: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.keys[rec.DedupKey]; ok {
		return false, nil
	}

	st.keys[rec.DedupKey] = struct{}{}

	return true, nil
}

const mergeUpdateSQL = `UPDATE outcome_records
SET test_name = s.test_name, status = s.status, detail = s.detail,
    duration = s.duration, recorded_at = s.recorded_at, seq = s.seq,
    updated_at = ?
FROM staged_outcomes AS s
WHERE s.batch_id = ?
  AND s.variant = outcome_records.variant
  AND s.dedup_key = outcome_records.dedup_key`

const mergeInsertSQL = `INSERT INTO outcome_records
    (variant, dedup_key, test_name, normalized_name, status, detail,
     duration, processed, recorded_at, seq, created_at, updated_at)
SELECT s.variant, s.dedup_key, s.test_name, s.normalized_name, s.status,
       s.detail, s.duration, ?, s.recorded_at, s.seq, ?, ?
FROM staged_outcomes AS s
WHERE s.batch_id = ?
  AND NOT EXISTS (
    SELECT 1 FROM outcome_records AS o
    WHERE o.variant = s.variant AND o.dedup_key = s.dedup_key
  )
ORDER BY s.seq`

func (st *stage) Merge(ctx context.Context) (*MergeResult, error) {
	var (
		result MergeResult
		now    = time.Now().UTC()
	)

	err := st.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated := tx.Exec(mergeUpdateSQL, now, st.id)
		if updated.Error != nil {
			return fmt.Errorf("updating matched records: %w", updated.Error)
		}

		inserted := tx.Exec(mergeInsertSQL, false, now, now, st.id)
		if inserted.Error != nil {
			return fmt.Errorf("inserting new records: %w", inserted.Error)
		}

		staged := tx.Model(&StagedRecord{}).
			Select("dedup_key").
			Where("batch_id = ?", st.id)

		if err := tx.Model(&Record{}).
			Where("variant = ? AND dedup_key IN (?)", string(st.variant), staged).
			Update("processed", true).Error; err != nil {
			return fmt.Errorf("marking records processed: %w", err)
		}

		if err := tx.Where("batch_id = ?", st.id).
			Delete(&StagedRecord{}).Error; err != nil {
			return fmt.Errorf("dropping staged batch: %w", err)
		}

		result.Updated = updated.RowsAffected
		result.Inserted = inserted.RowsAffected

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merging staged batch: %w", err)
	}

	st.mu.Lock()
	st.keys = make(map[string]struct{}, 64)
	st.mu.Unlock()

	st.log.WithFields(logrus.Fields{
		"updated":  result.Updated,
		"inserted": result.Inserted,
	}).Debug("Merged staged batch")

	return &result, nil
}

func (st *stage) Discard(ctx context.Context) error {
	if err := st.db.WithContext(ctx).
		Where("batch_id = ?", st.id).
		Delete(&StagedRecord{}).Error; err != nil {
		return fmt.Errorf("discarding staged batch: %w", err)
	}

	st.mu.Lock()
	st.keys = make(map[string]struct{}, 64)
	st.mu.Unlock()

	return nil
}
