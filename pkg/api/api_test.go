package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/ethpandaops/resultoor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, cfg *config.APIConfig) (*server, store.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))

	srv, ok := NewServer(log, cfg, st).(*server)
	require.True(t, ok)

	t.Cleanup(func() {
		_ = srv.Stop()
		_ = st.Stop()
	})

	return srv, st
}

func seed(t *testing.T, st store.Store) {
	t.Helper()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, ev := range []outcome.Event{
		{TestName: "util_tests", Status: outcome.StatusPassed, Duration: "4s"},
		{TestName: "util_tests", Status: outcome.StatusFailed, Detail: "Test failed due to an error.", Duration: "0s"},
		{TestName: "wallet_tests", Status: outcome.StatusSkipped, Detail: "is disabled", Duration: "0s"},
	} {
		_, err := st.InsertIfNew(ctx, store.NewRecord(outcome.VariantUnit, ev, now))
		require.NoError(t, err)
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestAPI_Health(t *testing.T) {
	srv, _ := setupTestServer(t, &config.APIConfig{})

	rec := get(t, srv.buildRouter(), "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_Outcomes(t *testing.T) {
	srv, st := setupTestServer(t, &config.APIConfig{})
	seed(t, st)

	h := srv.buildRouter()

	tests := []struct {
		name     string
		path     string
		wantCode int
		check    func(t *testing.T, body []byte)
	}{
		{
			name:     "list variants",
			path:     "/api/v1/variants",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				assert.JSONEq(t,
					`{"variants":[{"variant":"unit","records":3,"processed":3}]}`,
					string(body))
			},
		},
		{
			name:     "all outcomes of a variant",
			path:     "/api/v1/variants/unit/outcomes",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp outcomesResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, "history", resp.KeyMode)
				assert.Equal(t, 3, resp.Total)
				assert.Equal(t, "util_tests", resp.Outcomes[0].TestName)
			},
		},
		{
			name:     "empty variant",
			path:     "/api/v1/variants/fuzz/outcomes",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp outcomesResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 0, resp.Total)
				assert.NotNil(t, resp.Outcomes)
			},
		},
		{
			name:     "outcomes by name are case-insensitive",
			path:     "/api/v1/variants/unit/outcomes/UTIL_TESTS",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp outcomesResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 2, resp.Total)
			},
		},
		{
			name:     "unknown name",
			path:     "/api/v1/variants/unit/outcomes/missing",
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unknown variant",
			path:     "/api/v1/variants/integration/outcomes",
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tt.check != nil {
				tt.check(t, rec.Body.Bytes())
			}
		})
	}
}

func TestAPI_RateLimit(t *testing.T) {
	srv, _ := setupTestServer(t, &config.APIConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})

	h := srv.buildRouter()

	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/variants").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/variants").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/api/v1/variants").Code)

	// Health is not rate limited.
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/health").Code)
}

func TestAPI_StartStop(t *testing.T) {
	srv, _ := setupTestServer(t, &config.APIConfig{Listen: "127.0.0.1:0"})

	require.NoError(t, srv.Start(context.Background()))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop(), "stop is idempotent")
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:5555", xff: "203.0.113.7, 10.0.0.2", want: "203.0.113.7"},
		{name: "bare remote", remoteAddr: "unix", want: "unix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}
