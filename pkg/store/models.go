package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethpandaops/resultoor/pkg/outcome"
)

// Record is a durable outcome record.
type Record struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Variant        string `gorm:"not null;uniqueIndex:idx_outcome_identity,priority:1" json:"variant"`
	DedupKey       string `gorm:"not null;uniqueIndex:idx_outcome_identity,priority:2" json:"-"`
	TestName       string `gorm:"not null" json:"test_name"`
	NormalizedName string `gorm:"not null;index" json:"normalized_name"`
	Status         string `gorm:"not null" json:"status"`
	Detail         string `json:"detail"`
	Duration       string `json:"duration"`
	Processed      bool   `gorm:"not null;default:false" json:"processed"`
	// RecordedAt is the ISO-8601 ingest timestamp in fixed-width UTC, so
	// it sorts lexically.
	RecordedAt string `gorm:"not null" json:"timestamp"`
	// Seq is the event ordinal within the scan that recorded it.
	Seq        int       `gorm:"not null;default:0" json:"seq"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName pins the durable table name.
func (Record) TableName() string { return "outcome_records" }

// StagedRecord is a record waiting in a staging batch for an atomic merge.
type StagedRecord struct {
	BatchID        string `gorm:"primaryKey"`
	Variant        string `gorm:"primaryKey"`
	DedupKey       string `gorm:"primaryKey"`
	TestName       string `gorm:"not null"`
	NormalizedName string `gorm:"not null"`
	Status         string `gorm:"not null"`
	Detail         string
	Duration       string
	RecordedAt     string `gorm:"not null"`
	Seq            int    `gorm:"not null;default:0"`
}

// TableName pins the staging table name.
func (StagedRecord) TableName() string { return "staged_outcomes" }

// RecordedAtLayout is the fixed-width ISO-8601 layout of RecordedAt.
const RecordedAtLayout = "2006-01-02T15:04:05.000000000Z"

// VariantSummary aggregates the stored records of one variant.
type VariantSummary struct {
	Variant   string `json:"variant"`
	Records   int64  `json:"records"`
	Processed int64  `json:"processed"`
}

// NewRecord builds a durable record from a scanned event. The dedup key is
// derived from the variant's key mode.
func NewRecord(variant outcome.Variant, ev outcome.Event, recordedAt time.Time) *Record {
	rec := &Record{
		Variant:        string(variant),
		TestName:       strings.TrimSpace(ev.TestName),
		NormalizedName: outcome.Normalize(ev.TestName),
		Status:         string(ev.Status),
		Detail:         ev.Detail,
		Duration:       ev.Duration,
		RecordedAt:     recordedAt.UTC().Format(RecordedAtLayout),
		Seq:            ev.Ordinal,
	}

	rec.DedupKey = DedupKey(variant, rec)

	return rec
}

// DedupKey returns the uniqueness key of rec within its variant. Latest-mode
// variants key on the normalized name alone; history-mode variants key on
// the full (name, status, detail, duration, timestamp) tuple.
func DedupKey(variant outcome.Variant, rec *Record) string {
	if variant.KeyMode() == outcome.KeyModeLatest {
		return rec.NormalizedName
	}

	h := sha256.New()
	for _, part := range []string{
		rec.NormalizedName, rec.Status, rec.Detail, rec.Duration, rec.RecordedAt,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}

	return hex.EncodeToString(h.Sum(nil))
}

func (r *Record) staged(batchID string) *StagedRecord {
	return &StagedRecord{
		BatchID:        batchID,
		Variant:        r.Variant,
		DedupKey:       r.DedupKey,
		TestName:       r.TestName,
		NormalizedName: r.NormalizedName,
		Status:         r.Status,
		Detail:         r.Detail,
		Duration:       r.Duration,
		RecordedAt:     r.RecordedAt,
		Seq:            r.Seq,
	}
}
