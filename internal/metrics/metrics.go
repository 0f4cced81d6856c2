// Package metrics implements C1: the Prometheus metrics registry shared by
// the risk manager and decision engine, grounded on the teacher's
// interfaces/http/metrics.go (typed CounterVec/HistogramVec/GaugeVec fields
// plus MustRegister) and on the original's metrics.py nearest-rank
// percentile buffer.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry exposes risk_precheck_total, risk_check_latency_seconds (+
// deprecated _ms variant), risk_shadow_parity_ratio and risk_shadow_alert,
// per spec §4.1.
type Registry struct {
	PrecheckTotal *prometheus.CounterVec
	LatencySec    prometheus.Histogram
	LatencyMs     prometheus.Histogram
	ShadowParity  prometheus.Gauge
	ShadowAlert   *prometheus.GaugeVec

	mu           sync.Mutex
	sampleCap    int
	latencySec   []float64
	latencyMs    []float64
	droppedCount prometheus.Counter
}

// NewRegistry constructs every metric without registering it anywhere;
// MustRegisterOn registers them on a caller-supplied prometheus.Registry, so
// tests never collide with the global default registry.
func NewRegistry(sampleBufferSize int) *Registry {
	if sampleBufferSize <= 0 {
		sampleBufferSize = 10000
	}
	r := &Registry{
		PrecheckTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_precheck_total",
			Help: "Pre-order risk check outcomes by result and reason.",
		}, []string{"result", "reason"}),
		LatencySec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_check_latency_seconds",
			Help:    "Pre-order risk check wall-clock latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		LatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_check_latency_ms",
			Help:    "Deprecated: use risk_check_latency_seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}),
		ShadowParity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_shadow_parity_ratio",
			Help: "Shadow-comparator parity ratio in [0,1].",
		}),
		ShadowAlert: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "risk_shadow_alert",
			Help: "1 iff this shadow alert level is currently active.",
		}, []string{"level"}),
		droppedCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risk_sink_dropped_total",
			Help: "Rows dropped to the failed-batches compensation file.",
		}),
		sampleCap: sampleBufferSize,
	}
	return r
}

// MustRegisterOn registers every metric on the given Prometheus registry.
func (r *Registry) MustRegisterOn(reg *prometheus.Registry) {
	reg.MustRegister(r.PrecheckTotal, r.LatencySec, r.LatencyMs, r.ShadowParity, r.ShadowAlert, r.droppedCount)
}

// RecordPrecheck increments risk_precheck_total once per reason code (or
// once with reason="none" on a clean pass), per spec §4.1/§7.
func (r *Registry) RecordPrecheck(passed bool, reasons []string) {
	result := "pass"
	if !passed {
		result = "deny"
	}
	if len(reasons) == 0 {
		r.PrecheckTotal.WithLabelValues(result, "none").Inc()
		return
	}
	for _, reason := range reasons {
		r.PrecheckTotal.WithLabelValues(result, reason).Inc()
	}
}

// RecordLatency records one pre_order_check call's latency in both the
// canonical seconds histogram and the deprecated ms histogram, and appends
// to the bounded sample buffers used for p50/p95/p99.
func (r *Registry) RecordLatency(seconds float64) {
	r.LatencySec.Observe(seconds)
	r.LatencyMs.Observe(seconds * 1000)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencySec = appendBounded(r.latencySec, seconds, r.sampleCap)
	r.latencyMs = appendBounded(r.latencyMs, seconds*1000, r.sampleCap)
}

func appendBounded(buf []float64, v float64, cap_ int) []float64 {
	buf = append(buf, v)
	if len(buf) > cap_ {
		buf = buf[len(buf)-cap_:]
	}
	return buf
}

// LatencyPercentiles returns p50/p95/p99 for the seconds buffer using the
// nearest-rank algorithm index=int(count*pctl) on sorted samples, matching
// the original's metrics.py exactly.
func (r *Registry) LatencyPercentiles() (p50, p95, p99 float64) {
	r.mu.Lock()
	samples := append([]float64(nil), r.latencySec...)
	r.mu.Unlock()
	return percentiles(samples)
}

// LatencyMsPercentiles is the deprecated-unit equivalent of LatencyPercentiles.
func (r *Registry) LatencyMsPercentiles() (p50, p95, p99 float64) {
	r.mu.Lock()
	samples := append([]float64(nil), r.latencyMs...)
	r.mu.Unlock()
	return percentiles(samples)
}

func percentiles(samples []float64) (p50, p95, p99 float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(samples)
	count := len(samples)
	idx := func(pctl float64) float64 {
		i := int(float64(count) * pctl)
		if i >= count {
			i = count - 1
		}
		return samples[i]
	}
	return idx(0.50), idx(0.95), idx(0.99)
}

// SetShadowParity publishes the current shadow-comparator parity ratio.
func (r *Registry) SetShadowParity(ratio float64) {
	r.ShadowParity.Set(ratio)
}

// SetShadowAlert publishes the active alert level, zeroing the other two.
func (r *Registry) SetShadowAlert(level string) {
	for _, l := range []string{"ok", "warn", "critical"} {
		v := 0.0
		if l == level {
			v = 1.0
		}
		r.ShadowAlert.WithLabelValues(l).Set(v)
	}
}

// IncDropped increments the sink-dropped-rows counter (spec §7 infra-fault tier).
func (r *Registry) IncDropped() {
	r.droppedCount.Inc()
}

// Reset clears the latency sample buffers; the Prometheus counters, gauges
// and histograms keep their values. Tests only (spec §4.1).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencySec = nil
	r.latencyMs = nil
}
