package store

import (
	"context"
	"fmt"

	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// InsertResult reports what InsertIfNew did with a record.
type InsertResult int

const (
	// Inserted means the record was new and has been stored.
	Inserted InsertResult = iota
	// Duplicate means a record with the same key already existed.
	Duplicate
)

// String implements fmt.Stringer.
func (r InsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}

	return "duplicate, skipped"
}

// Store persists outcome records with dedup-aware writes.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// InsertIfNew stores rec unless a record with the same key exists.
	// Duplicates are never an error and are never overwritten.
	InsertIfNew(ctx context.Context, rec *Record) (InsertResult, error)

	// ExistsProcessed reports whether a processed record exists for name.
	ExistsProcessed(ctx context.Context, variant outcome.Variant, name string) (bool, error)

	// QueryAll returns every durable record of variant in log order:
	// by recorded time, then event ordinal, then id.
	QueryAll(ctx context.Context, variant outcome.Variant) ([]Record, error)

	// GetByName returns the records of one normalized name.
	GetByName(ctx context.Context, variant outcome.Variant, name string) ([]Record, error)

	// ListVariants returns per-variant record counts.
	ListVariants(ctx context.Context) ([]VariantSummary, error)

	// NewStage opens a staging batch for an atomic merge.
	NewStage(variant outcome.Variant) Stage
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		// A single connection keeps ":memory:" databases shared and
		// serializes writers.
		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.migrate(ctx); err != nil {
		return err
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

func (s *store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&Record{},
		&StagedRecord{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) InsertIfNew(ctx context.Context, rec *Record) (InsertResult, error) {
	var existing []Record

	if err := s.db.WithContext(ctx).
		Where("variant = ? AND dedup_key = ?", rec.Variant, rec.DedupKey).
		Limit(1).
		Find(&existing).Error; err != nil {
		return Duplicate, fmt.Errorf("looking up record: %w", err)
	}

	if len(existing) > 0 {
		return Duplicate, nil
	}

	// Direct inserts land in the durable table, so they count as processed.
	rec.Processed = true

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if result.Error != nil {
		return Duplicate, fmt.Errorf("inserting record: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return Duplicate, nil
	}

	return Inserted, nil
}

func (s *store) ExistsProcessed(
	ctx context.Context, variant outcome.Variant, name string,
) (bool, error) {
	var count int64

	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("variant = ? AND normalized_name = ? AND processed = ?",
			string(variant), outcome.Normalize(name), true).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking processed record: %w", err)
	}

	return count > 0, nil
}

func (s *store) QueryAll(ctx context.Context, variant outcome.Variant) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("variant = ?", string(variant)).
		Order("recorded_at ASC, seq ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}

	return records, nil
}

func (s *store) GetByName(
	ctx context.Context, variant outcome.Variant, name string,
) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("variant = ? AND normalized_name = ?", string(variant), outcome.Normalize(name)).
		Order("recorded_at ASC, seq ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting records by name: %w", err)
	}

	return records, nil
}

func (s *store) ListVariants(ctx context.Context) ([]VariantSummary, error) {
	var summaries []VariantSummary
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("variant, COUNT(*) AS records, "+
			"SUM(CASE WHEN processed THEN 1 ELSE 0 END) AS processed").
		Group("variant").
		Order("variant ASC").
		Scan(&summaries).Error; err != nil {
		return nil, fmt.Errorf("listing variants: %w", err)
	}

	return summaries, nil
}
