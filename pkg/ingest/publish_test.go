package ingest_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ethpandaops/resultoor/pkg/ingest"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/ethpandaops/resultoor/pkg/qase"
	"github.com/ethpandaops/resultoor/pkg/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingClient is an in-memory remote that keeps posted results.
type recordingClient struct {
	mu      sync.Mutex
	nextID  int64
	cases   map[int64]string
	results map[string]string
}

var _ qase.Client = (*recordingClient)(nil)

func newRecordingClient() *recordingClient {
	return &recordingClient{
		nextID:  100,
		cases:   make(map[int64]string),
		results: make(map[string]string),
	}
}

func (c *recordingClient) id() int64 {
	c.nextID++

	return c.nextID
}

func (c *recordingClient) SuiteExists(context.Context, int64) (bool, error) { return true, nil }

func (c *recordingClient) CreateSuite(context.Context, string, string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.id(), nil
}

func (c *recordingClient) ListCases(context.Context, int64, int, int) ([]qase.Case, error) {
	return nil, nil
}

func (c *recordingClient) CreateCase(_ context.Context, in *qase.CaseCreate) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.id()
	c.cases[id] = in.Title

	return id, nil
}

func (c *recordingClient) CreateRun(context.Context, *qase.RunCreate) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.id(), nil
}

func (c *recordingClient) PostResult(_ context.Context, _ int64, in *qase.ResultCreate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[c.cases[in.CaseID]] = in.Status

	return nil
}

func (c *recordingClient) CompleteRun(context.Context, int64) error { return nil }

func TestIngest_FailureAfterStartIsPublishedAsFailed(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	const tests = 20

	var b strings.Builder
	for n := 0; n < tests; n++ {
		fmt.Fprintf(&b, "Running tests: t%02d from t%02d.cpp\n", n, n)
	}

	for n := 0; n < tests; n++ {
		fmt.Fprintf(&b, "error: in \"t%02d\": check failed\n", n)
	}

	result, err := ingest.New(testLogger(), s).Ingest(ctx, scan(t, outcome.VariantUnit, b.String()))
	require.NoError(t, err)
	require.Equal(t, 2*tests, result.Inserted)

	records, err := s.QueryAll(ctx, outcome.VariantUnit)
	require.NoError(t, err)
	require.Len(t, records, 2*tests)

	for n, rec := range records {
		assert.Equal(t, n+1, rec.Seq, "records come back in log order")
	}

	client := newRecordingClient()

	summary, err := reconciler.New(testLogger(), client, reconciler.Options{}).
		Reconcile(ctx, reconciler.Pass{
			Variant:    outcome.VariantUnit,
			SuiteID:    1,
			SuiteName:  "Unit Tests",
			RunName:    "Unit Test Run",
			Records:    records,
			PublishRun: true,
		})
	require.NoError(t, err)
	assert.Equal(t, tests, summary.CasesCreated)
	assert.Equal(t, tests, summary.ResultsPosted)

	require.Len(t, client.results, tests)

	for name, status := range client.results {
		assert.Equal(t, reconciler.RemoteFailed, status, name)
	}
}
