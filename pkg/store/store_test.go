package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func setupTestStore(t *testing.T) *store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	s, ok := NewStore(testLogger(), cfg).(*store)
	require.True(t, ok)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func event(name string, status outcome.Status, detail, duration string) outcome.Event {
	return outcome.Event{TestName: name, Status: status, Detail: detail, Duration: duration}
}

func TestStore_StartIsIdempotent(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.migrate(context.Background()))
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := NewStore(testLogger(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestStore_InsertIfNew(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		variant outcome.Variant
		first   outcome.Event
		second  outcome.Event
		want    InsertResult
		records int
	}{
		{
			name:    "identical record is stored once",
			variant: outcome.VariantFunctional,
			first:   event("feature_block.py", outcome.StatusPassed, "", "12 s"),
			second:  event("feature_block.py", outcome.StatusPassed, "", "12 s"),
			want:    Duplicate,
			records: 1,
		},
		{
			name:    "latest mode keys on normalized name only",
			variant: outcome.VariantFuzz,
			first:   event("block_deserialize", outcome.StatusPassed, "10 files", "3s"),
			second:  event(" Block_Deserialize ", outcome.StatusFailed, "12 files", "5s"),
			want:    Duplicate,
			records: 1,
		},
		{
			name:    "history mode keeps distinct tuples",
			variant: outcome.VariantUnit,
			first:   event("util_tests", outcome.StatusPassed, "", "4s"),
			second:  event("util_tests", outcome.StatusFailed, "Test failed due to an error.", "0s"),
			want:    Inserted,
			records: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestStore(t)

			got, err := s.InsertIfNew(ctx, NewRecord(tt.variant, tt.first, now))
			require.NoError(t, err)
			assert.Equal(t, Inserted, got)

			got, err = s.InsertIfNew(ctx, NewRecord(tt.variant, tt.second, now))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			records, err := s.QueryAll(ctx, tt.variant)
			require.NoError(t, err)
			require.Len(t, records, tt.records)

			// Duplicates never overwrite.
			assert.Equal(t, string(tt.first.Status), records[0].Status)
			assert.True(t, records[0].Processed)
		})
	}
}

func TestStore_ExistsProcessed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	exists, err := s.ExistsProcessed(ctx, outcome.VariantFunctional, "wallet_basic.py")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.InsertIfNew(ctx, NewRecord(outcome.VariantFunctional,
		event("Wallet_Basic.py", outcome.StatusPassed, "", "1s"), time.Now()))
	require.NoError(t, err)

	exists, err = s.ExistsProcessed(ctx, outcome.VariantFunctional, "  wallet_basic.py ")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ExistsProcessed(ctx, outcome.VariantFuzz, "wallet_basic.py")
	require.NoError(t, err)
	assert.False(t, exists, "lookups are scoped to a variant")
}

func TestStore_GetByNameAndListVariants(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, ev := range []outcome.Event{
		event("util_tests", outcome.StatusPassed, "", "4s"),
		event("util_tests", outcome.StatusFailed, "Test failed due to an error.", "0s"),
		event("wallet_tests", outcome.StatusSkipped, "is disabled", "0s"),
	} {
		_, err := s.InsertIfNew(ctx, NewRecord(outcome.VariantUnit, ev, now))
		require.NoError(t, err)
	}

	_, err := s.InsertIfNew(ctx, NewRecord(outcome.VariantFuzz,
		event("addrman", outcome.StatusPassed, "4 files", "2s"), now))
	require.NoError(t, err)

	records, err := s.GetByName(ctx, outcome.VariantUnit, "UTIL_TESTS")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "passed", records[0].Status)
	assert.Equal(t, "failed", records[1].Status)

	none, err := s.GetByName(ctx, outcome.VariantUnit, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	summaries, err := s.ListVariants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []VariantSummary{
		{Variant: "fuzz", Records: 1, Processed: 1},
		{Variant: "unit", Records: 3, Processed: 3},
	}, summaries)
}

func TestStage_MergeKeepsLogOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stage := s.NewStage(outcome.VariantUnit)

	names := []string{"t00", "t01", "t02", "t03", "t04", "t05", "t06", "t07"}
	seq := 0

	for _, status := range []outcome.Status{outcome.StatusPassed, outcome.StatusFailed} {
		for _, name := range names {
			seq++

			ev := event(name, status, "", "0s")
			ev.Ordinal = seq

			_, err := stage.Add(ctx, NewRecord(outcome.VariantUnit, ev, now))
			require.NoError(t, err)
		}
	}

	_, err := stage.Merge(ctx)
	require.NoError(t, err)

	records, err := s.QueryAll(ctx, outcome.VariantUnit)
	require.NoError(t, err)
	require.Len(t, records, 2*len(names))

	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i-1].ID, records[i].ID)
		assert.Equal(t, i+1, records[i].Seq)
	}

	assert.Equal(t, "failed", records[len(records)-1].Status)
}

func TestStage_Merge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	existing := NewRecord(outcome.VariantUnit, event("util_tests", outcome.StatusPassed, "", "4s"), now)
	existing.Processed = false
	require.NoError(t, s.db.Create(existing).Error)

	stage := s.NewStage(outcome.VariantUnit)
	assert.NotEmpty(t, stage.ID())

	added, err := stage.Add(ctx, NewRecord(outcome.VariantUnit,
		event("util_tests", outcome.StatusPassed, "", "4s"), now))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = stage.Add(ctx, NewRecord(outcome.VariantUnit,
		event("wallet_tests", outcome.StatusSkipped, "is disabled", "0s"), now))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = stage.Add(ctx, NewRecord(outcome.VariantUnit,
		event("wallet_tests", outcome.StatusSkipped, "is disabled", "0s"), now))
	require.NoError(t, err)
	assert.False(t, added, "same key within a batch collapses")
	assert.Equal(t, 2, stage.Len())

	result, err := stage.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Updated)
	assert.Equal(t, int64(1), result.Inserted)

	records, err := s.QueryAll(ctx, outcome.VariantUnit)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.True(t, rec.Processed, rec.TestName)
	}

	var staged int64
	require.NoError(t, s.db.Model(&StagedRecord{}).Count(&staged).Error)
	assert.Zero(t, staged, "batch is dropped after merge")
}

func TestStage_AddRejectsOtherVariant(t *testing.T) {
	s := setupTestStore(t)

	stage := s.NewStage(outcome.VariantUnit)

	_, err := stage.Add(context.Background(), NewRecord(outcome.VariantFuzz,
		event("addrman", outcome.StatusPassed, "1 files", "1s"), time.Now()))
	require.Error(t, err)
}

func TestStage_Discard(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stage := s.NewStage(outcome.VariantUnit)
	_, err := stage.Add(ctx, NewRecord(outcome.VariantUnit,
		event("util_tests", outcome.StatusPassed, "", "4s"), time.Now()))
	require.NoError(t, err)

	require.NoError(t, stage.Discard(ctx))
	assert.Equal(t, 0, stage.Len())

	var staged int64
	require.NoError(t, s.db.Model(&StagedRecord{}).Count(&staged).Error)
	assert.Zero(t, staged)

	records, err := s.QueryAll(ctx, outcome.VariantUnit)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStage_MergeRollsBackOnFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	existing := NewRecord(outcome.VariantUnit, event("util_tests", outcome.StatusPassed, "", "4s"), now)
	existing.Processed = false
	require.NoError(t, s.db.Create(existing).Error)

	before, err := s.QueryAll(ctx, outcome.VariantUnit)
	require.NoError(t, err)

	stage := s.NewStage(outcome.VariantUnit)

	for _, ev := range []outcome.Event{
		event("util_tests", outcome.StatusPassed, "", "4s"),
		event("wallet_tests", outcome.StatusSkipped, "is disabled", "0s"),
	} {
		_, err := stage.Add(ctx, NewRecord(outcome.VariantUnit, ev, now))
		require.NoError(t, err)
	}

	// Fail the third merge step, after the update and insert have run.
	require.NoError(t, s.db.Exec(`CREATE TRIGGER fail_mark_processed
BEFORE UPDATE OF processed ON outcome_records
BEGIN
  SELECT RAISE(ABORT, 'injected failure');
END`).Error)

	_, err = stage.Merge(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected failure")

	after, err := s.QueryAll(ctx, outcome.VariantUnit)
	require.NoError(t, err)
	assert.Equal(t, before, after, "durable table must be unchanged")

	var staged int64
	require.NoError(t, s.db.Model(&StagedRecord{}).Count(&staged).Error)
	assert.Equal(t, int64(2), staged, "batch survives a failed merge")
}

func TestStage_MergeRollsBackOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)

	s := &store{log: testLogger(), db: db}
	stage := s.NewStage(outcome.VariantUnit)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outcome_records")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outcome_records")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = stage.Merge(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserting new records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a := NewRecord(outcome.VariantUnit, event("Util_Tests", outcome.StatusPassed, "", "4s"), now)
	b := NewRecord(outcome.VariantUnit, event(" util_tests ", outcome.StatusPassed, "", "4s"), now)
	c := NewRecord(outcome.VariantUnit, event("util_tests", outcome.StatusPassed, "", "4s"), now.Add(time.Second))

	assert.Equal(t, a.DedupKey, b.DedupKey)
	assert.NotEqual(t, a.DedupKey, c.DedupKey)

	latest := NewRecord(outcome.VariantFunctional, event(" Feature_Block.py", outcome.StatusPassed, "", "1s"), now)
	assert.Equal(t, "feature_block.py", latest.DedupKey)
	assert.Equal(t, "Feature_Block.py", latest.TestName)
}
