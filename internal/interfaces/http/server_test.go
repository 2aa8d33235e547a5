package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/putrun/internal/net/budget"
	"github.com/sawpanic/putrun/internal/persistence"
	"github.com/sawpanic/putrun/internal/scan"
)

type stubScanner struct {
	mu      sync.Mutex
	got     []string
	block   chan struct{}
	started chan struct{}
}

func (s *stubScanner) Scan(ctx context.Context, tickers []string) *scan.Result {
	s.mu.Lock()
	s.got = tickers
	s.mu.Unlock()

	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}

	return &scan.Result{
		RunID:   "run-1",
		Tickers: len(tickers),
		Ranked: []scan.Entry{
			{Ticker: "MPW", Expiration: time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC), DTE: 37, AnnualizedReturn: 0.22, Qualifying: 3},
		},
		Failures: []scan.Failure{
			{Ticker: "PFE", Stage: scan.StageSelect, Kind: scan.KindNoQualifyingOptions, Err: errors.New("none in band")},
		},
	}
}

type stubRankings struct {
	latest *persistence.Ranking
	err    error
}

func (s *stubRankings) Save(ctx context.Context, r persistence.Ranking) error { return nil }
func (s *stubRankings) Latest(ctx context.Context) (*persistence.Ranking, error) {
	return s.latest, s.err
}

type stubHealth struct{ healthy bool }

func (s stubHealth) Health(ctx context.Context) persistence.HealthCheck {
	if s.healthy {
		return persistence.HealthCheck{Healthy: true}
	}
	return persistence.HealthCheck{Errors: []string{"connection refused"}}
}

func defaultTickers(ctx context.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	return []string{"OHI", "MPW", "PFE"}, nil
}

func newTestServer(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Scanner == nil {
		deps.Scanner = &stubScanner{}
	}
	if deps.Tickers == nil {
		deps.Tickers = defaultTickers
	}
	srv, err := NewServer(DefaultServerConfig(), deps)
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresScanner(t *testing.T) {
	_, err := NewServer(DefaultServerConfig(), Deps{})
	assert.Error(t, err)
}

func TestScan_DefaultWatchlist(t *testing.T) {
	scanner := &stubScanner{}
	h := newTestServer(t, Deps{Scanner: scanner})

	rec := do(h, http.MethodPost, "/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, []string{"OHI", "MPW", "PFE"}, scanner.got)

	var body struct {
		RunID    string `json:"run_id"`
		Ranked   []scan.Entry
		Failures []struct {
			Ticker string `json:"ticker"`
			Kind   string `json:"kind"`
			Reason string `json:"reason"`
		} `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	require.Len(t, body.Ranked, 1)
	assert.Equal(t, "MPW", body.Ranked[0].Ticker)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, "no_qualifying_options", body.Failures[0].Kind)
	assert.Equal(t, "none in band", body.Failures[0].Reason)
}

func TestScan_ExplicitTickers(t *testing.T) {
	scanner := &stubScanner{}
	h := newTestServer(t, Deps{Scanner: scanner})

	rec := do(h, http.MethodPost, "/scan", []byte(`{"tickers":["T","VZ"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"T", "VZ"}, scanner.got)
}

func TestScan_BadBody(t *testing.T) {
	h := newTestServer(t, Deps{})
	rec := do(h, http.MethodPost, "/scan", []byte(`{"tickers":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScan_WatchlistError(t *testing.T) {
	h := newTestServer(t, Deps{Tickers: func(ctx context.Context, explicit []string) ([]string, error) {
		return nil, errors.New("missing file")
	}})
	rec := do(h, http.MethodPost, "/scan", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing file")
}

func TestScan_ConcurrentRequestConflicts(t *testing.T) {
	scanner := &stubScanner{block: make(chan struct{}), started: make(chan struct{})}
	h := newTestServer(t, Deps{Scanner: scanner})

	done := make(chan int, 1)
	go func() {
		done <- do(h, http.MethodPost, "/scan", nil).Code
	}()
	<-scanner.started

	rec := do(h, http.MethodPost, "/scan", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(scanner.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestScan_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, Deps{})
	rec := do(h, http.MethodGet, "/scan", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLatest_InMemory(t *testing.T) {
	h := newTestServer(t, Deps{})

	rec := do(h, http.MethodGet, "/scan/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/scan", nil).Code)

	rec = do(h, http.MethodGet, "/scan/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ranking persistence.Ranking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranking))
	assert.Equal(t, "run-1", ranking.RunID)
	require.Len(t, ranking.Entries, 1)
	assert.Equal(t, 1, ranking.Entries[0].Rank)
	assert.Equal(t, "MPW", ranking.Entries[0].Ticker)
}

func TestLatest_FromRepository(t *testing.T) {
	repo := &stubRankings{latest: &persistence.Ranking{RunID: "persisted"}}
	h := newTestServer(t, Deps{Rankings: repo})

	rec := do(h, http.MethodGet, "/scan/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"persisted"`)

	repo.latest, repo.err = nil, errors.New("db down")
	rec = do(h, http.MethodGet, "/scan/latest", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	stats := budget.Stats{Limit: 100, Used: 10, Remaining: 90}
	providers := []ProviderStatus{{Name: "massive", Circuit: "closed", Budget: &stats}}

	h := newTestServer(t, Deps{
		Health:    stubHealth{healthy: true},
		Providers: func() []ProviderStatus { return providers },
		Version:   "v1.0.0",
	})

	rec := do(h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Equal(t, "pass", resp.Checks["persistence"].Status)
	assert.Equal(t, "pass", resp.Checks["provider_massive"].Status)

	providers[0].Circuit = "half-open"
	rec = do(h, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", resp.Status)

	providers[0].Circuit = "open"
	rec = do(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth_PersistenceDown(t *testing.T) {
	h := newTestServer(t, Deps{Health: stubHealth{}})

	rec := do(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsAndNotFound(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("putrun_scans_total 1\n"))
	})
	h := newTestServer(t, Deps{Metrics: metrics})

	rec := do(h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "putrun_scans_total")

	rec = do(h, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}
