package memory

import (
	"sort"
	"sync"
	"time"
)

// maxLatencySamples bounds the latency window kept per operation.
const maxLatencySamples = 1000

// MetricsCollector collects per-operation counters and latencies for the
// memory components.
type MetricsCollector struct {
	mu  sync.RWMutex
	ops map[string]*opMetrics
}

type opMetrics struct {
	count     int64
	errors    int64
	latencies []time.Duration
	next      int // ring position once latencies is full
}

// OpStats is the summary of a single operation.
type OpStats struct {
	Count   int64              `json:"count"`
	Errors  int64              `json:"errors"`
	Latency LatencyPercentiles `json:"latency"`
}

// LatencyPercentiles represents latency percentiles
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// MetricsSummary represents a summary of collected metrics, keyed by
// "<component>.<operation>".
type MetricsSummary struct {
	TotalOps    int64              `json:"total_ops"`
	TotalErrors int64              `json:"total_errors"`
	Ops         map[string]OpStats `json:"ops"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{ops: make(map[string]*opMetrics)}
}

// RecordOp records one completed operation.
func (mc *MetricsCollector) RecordOp(component, op string, duration time.Duration, err error) {
	if mc == nil {
		return
	}
	name := component + "." + op

	mc.mu.Lock()
	defer mc.mu.Unlock()

	m, ok := mc.ops[name]
	if !ok {
		m = &opMetrics{latencies: make([]time.Duration, 0, 64)}
		mc.ops[name] = m
	}
	m.count++
	if err != nil {
		m.errors++
	}
	if len(m.latencies) < maxLatencySamples {
		m.latencies = append(m.latencies, duration)
		return
	}
	m.latencies[m.next] = duration
	m.next = (m.next + 1) % maxLatencySamples
}

// GetSummary returns a summary of collected metrics
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	summary := MetricsSummary{Ops: make(map[string]OpStats)}
	if mc == nil {
		return summary
	}

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	for name, m := range mc.ops {
		summary.TotalOps += m.count
		summary.TotalErrors += m.errors
		summary.Ops[name] = OpStats{
			Count:   m.count,
			Errors:  m.errors,
			Latency: calculatePercentiles(m.latencies),
		}
	}
	return summary
}

// calculatePercentiles calculates p50, p95, p99 latencies
func calculatePercentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

// Reset clears all collected metrics
func (mc *MetricsCollector) Reset() {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.ops = make(map[string]*opMetrics)
}
