package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Registry holds the Prometheus collectors for scans and providers
type Registry struct {
	reg *prometheus.Registry

	ScansTotal       prometheus.Counter
	ScanDuration     prometheus.Histogram
	ActiveScans      prometheus.Gauge
	TickersTotal     *prometheus.CounterVec
	TickerFailures   *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	CircuitState     *prometheus.GaugeVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheHitRatio    prometheus.Gauge
}

// NewRegistry creates a registry with every putrun collector registered
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "putrun_scans_total",
			Help: "Total number of watchlist scans run",
		}),

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "putrun_scan_duration_seconds",
			Help:    "Wall-clock duration of a watchlist scan",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		ActiveScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "putrun_active_scans",
			Help: "Number of scans currently running",
		}),

		TickersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "putrun_tickers_total",
			Help: "Tickers processed by outcome (ranked, unprofitable, failed)",
		}, []string{"outcome"}),

		TickerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "putrun_ticker_failures_total",
			Help: "Ticker failures by error kind",
		}, []string{"kind"}),

		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "putrun_provider_requests_total",
			Help: "Provider calls by provider, operation and result",
		}, []string{"provider", "op", "result"}),

		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "putrun_provider_latency_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "op"}),

		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "putrun_circuit_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		}, []string{"provider"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "putrun_cache_hits_total",
			Help: "Provider response cache hits by operation",
		}, []string{"op"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "putrun_cache_misses_total",
			Help: "Provider response cache misses by operation",
		}, []string{"op"}),

		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "putrun_cache_hit_ratio",
			Help: "Provider response cache hit ratio (0.0 to 1.0)",
		}),
	}

	r.reg.MustRegister(
		r.ScansTotal,
		r.ScanDuration,
		r.ActiveScans,
		r.TickersTotal,
		r.TickerFailures,
		r.ProviderRequests,
		r.ProviderLatency,
		r.CircuitState,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ScanTimer tracks one scan from start to finish
type ScanTimer struct {
	registry *Registry
	start    time.Time
}

// StartScan records a scan start
func (r *Registry) StartScan() *ScanTimer {
	r.ScansTotal.Inc()
	r.ActiveScans.Inc()
	return &ScanTimer{registry: r, start: time.Now()}
}

// Stop records the scan duration
func (st *ScanTimer) Stop() {
	d := time.Since(st.start)
	st.registry.ActiveScans.Dec()
	st.registry.ScanDuration.Observe(d.Seconds())
	log.Debug().Dur("duration", d).Msg("scan timer stopped")
}

// RecordTicker counts a ticker outcome
func (r *Registry) RecordTicker(outcome string) {
	r.TickersTotal.WithLabelValues(outcome).Inc()
}

// RecordFailure counts a ticker failure by kind
func (r *Registry) RecordFailure(kind string) {
	r.TickersTotal.WithLabelValues("failed").Inc()
	r.TickerFailures.WithLabelValues(kind).Inc()
}

// RecordProviderCall counts a provider call and observes its latency
func (r *Registry) RecordProviderCall(provider, op, result string, latency time.Duration) {
	r.ProviderRequests.WithLabelValues(provider, op, result).Inc()
	r.ProviderLatency.WithLabelValues(provider, op).Observe(latency.Seconds())
}

// RecordCircuitState maps a breaker transition onto the state gauge
func (r *Registry) RecordCircuitState(provider string, from, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	r.CircuitState.WithLabelValues(provider).Set(v)
}

// RecordCacheHit records a response cache hit
func (r *Registry) RecordCacheHit(op string) {
	r.CacheHits.WithLabelValues(op).Inc()
	r.updateCacheHitRatio()
}

// RecordCacheMiss records a response cache miss
func (r *Registry) RecordCacheMiss(op string) {
	r.CacheMisses.WithLabelValues(op).Inc()
	r.updateCacheHitRatio()
}

// updateCacheHitRatio sums hits and misses across every op label
func (r *Registry) updateCacheHitRatio() {
	hits := sumCounterVec(r.CacheHits)
	misses := sumCounterVec(r.CacheMisses)
	if total := hits + misses; total > 0 {
		r.CacheHitRatio.Set(hits / total)
	}
}

func sumCounterVec(vec *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()

	total := 0.0
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err == nil {
			total += pb.GetCounter().GetValue()
		}
	}
	return total
}
