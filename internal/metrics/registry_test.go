package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_TickerOutcomes(t *testing.T) {
	r := NewRegistry()

	r.RecordTicker("ranked")
	r.RecordTicker("ranked")
	r.RecordTicker("unprofitable")
	r.RecordFailure("data_unavailable")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.TickersTotal.WithLabelValues("ranked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TickersTotal.WithLabelValues("unprofitable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TickersTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TickerFailures.WithLabelValues("data_unavailable")))
}

func TestRegistry_ScanTimer(t *testing.T) {
	r := NewRegistry()

	timer := r.StartScan()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveScans))
	timer.Stop()

	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveScans))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ScansTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(r.ScanDuration))
}

func TestRegistry_CacheHitRatio(t *testing.T) {
	r := NewRegistry()

	r.RecordCacheHit("option_chain")
	r.RecordCacheHit("last_close")
	r.RecordCacheHit("last_close")
	r.RecordCacheMiss("expirations")

	assert.InDelta(t, 0.75, testutil.ToFloat64(r.CacheHitRatio), 1e-9)
}

func TestRegistry_CircuitState(t *testing.T) {
	r := NewRegistry()

	r.RecordCircuitState("massive", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.CircuitState.WithLabelValues("massive")))

	r.RecordCircuitState("massive", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CircuitState.WithLabelValues("massive")))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.RecordProviderCall("massive", "option_chain", "ok", 0)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `putrun_provider_requests_total{op="option_chain",provider="massive",result="ok"} 1`)
}
