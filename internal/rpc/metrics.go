package rpc

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds in-process request statistics reported by daemon.health.
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCounts  map[string]int64           // method -> count
	requestErrors  map[string]int64           // method -> error count
	requestLatency map[string][]time.Duration // method -> latency samples (bounded slice)
	maxSamples     int

	// Connection metrics
	totalConns    int64
	rejectedConns int64
	droppedEvents int64

	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		requestCounts:  make(map[string]int64),
		requestErrors:  make(map[string]int64),
		requestLatency: make(map[string][]time.Duration),
		maxSamples:     1000, // Keep last 1000 samples per method
		startTime:      time.Now(),
	}
}

// RecordRequest records a request (successful or failed)
func (m *Metrics) RecordRequest(method string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCounts[method]++

	samples := m.requestLatency[method]
	if len(samples) >= m.maxSamples {
		samples = samples[1:]
	}
	m.requestLatency[method] = append(samples, latency)
}

// RecordError records a failed request
func (m *Metrics) RecordError(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestErrors[method]++
}

// RecordConnection records a new connection
func (m *Metrics) RecordConnection() {
	atomic.AddInt64(&m.totalConns, 1)
}

// RecordRejectedConnection records a rejected connection (max conns reached)
func (m *Metrics) RecordRejectedConnection() {
	atomic.AddInt64(&m.rejectedConns, 1)
}

// RecordDroppedEvent records an event that did not fit a connection's queue
func (m *Metrics) RecordDroppedEvent() {
	atomic.AddInt64(&m.droppedEvents, 1)
}

// Uptime returns the time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot(activeConns int) MetricsSnapshot {
	m.mu.RLock()
	methods := make(map[string]struct{})
	for op := range m.requestCounts {
		methods[op] = struct{}{}
	}
	for op := range m.requestErrors {
		methods[op] = struct{}{}
	}
	counts := make(map[string]int64, len(methods))
	errs := make(map[string]int64, len(methods))
	lat := make(map[string][]time.Duration, len(methods))
	for op := range methods {
		counts[op] = m.requestCounts[op]
		errs[op] = m.requestErrors[op]
		if samples := m.requestLatency[op]; len(samples) > 0 {
			lat[op] = append([]time.Duration(nil), samples...)
		}
	}
	m.mu.RUnlock()

	// Round up so a freshly started daemon never reports zero uptime.
	uptimeSeconds := math.Ceil(m.Uptime().Seconds())
	if uptimeSeconds == 0 {
		uptimeSeconds = 1
	}

	ops := make([]MethodMetrics, 0, len(methods))
	for op := range methods {
		success := counts[op] - errs[op]
		if success < 0 {
			success = 0
		}
		mm := MethodMetrics{
			Method:       op,
			TotalCount:   counts[op],
			ErrorCount:   errs[op],
			SuccessCount: success,
		}
		if samples := lat[op]; len(samples) > 0 {
			mm.Latency = calculateLatencyStats(samples)
		}
		ops = append(ops, mm)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].TotalCount != ops[j].TotalCount {
			return ops[i].TotalCount > ops[j].TotalCount
		}
		return ops[i].Method < ops[j].Method
	})

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		Timestamp:      time.Now(),
		UptimeSeconds:  uptimeSeconds,
		Methods:        ops,
		TotalConns:     atomic.LoadInt64(&m.totalConns),
		ActiveConns:    activeConns,
		RejectedConns:  atomic.LoadInt64(&m.rejectedConns),
		DroppedEvents:  atomic.LoadInt64(&m.droppedEvents),
		MemoryAllocMB:  memStats.Alloc / 1024 / 1024,
		GoroutineCount: runtime.NumGoroutine(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics
type MetricsSnapshot struct {
	Timestamp      time.Time       `json:"timestamp"`
	UptimeSeconds  float64         `json:"uptime_seconds"`
	Methods        []MethodMetrics `json:"methods"`
	TotalConns     int64           `json:"total_connections"`
	ActiveConns    int             `json:"active_connections"`
	RejectedConns  int64           `json:"rejected_connections"`
	DroppedEvents  int64           `json:"dropped_events"`
	MemoryAllocMB  uint64          `json:"memory_alloc_mb"`
	GoroutineCount int             `json:"goroutine_count"`
}

// MethodMetrics holds metrics for a single method
type MethodMetrics struct {
	Method       string       `json:"method"`
	TotalCount   int64        `json:"total_count"`
	SuccessCount int64        `json:"success_count"`
	ErrorCount   int64        `json:"error_count"`
	Latency      LatencyStats `json:"latency"`
}

// LatencyStats holds latency percentile data in milliseconds
type LatencyStats struct {
	MinMS float64 `json:"min_ms"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`
	MaxMS float64 `json:"max_ms"`
	AvgMS float64 `json:"avg_ms"`
}

// calculateLatencyStats computes percentiles from latency samples and returns milliseconds
func calculateLatencyStats(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	p50Idx := min(n-1, n*50/100)
	p95Idx := min(n-1, n*95/100)
	p99Idx := min(n-1, n*99/100)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	avg := sum / time.Duration(n)

	toMS := func(d time.Duration) float64 {
		return float64(d) / float64(time.Millisecond)
	}

	return LatencyStats{
		MinMS: toMS(sorted[0]),
		P50MS: toMS(sorted[p50Idx]),
		P95MS: toMS(sorted[p95Idx]),
		P99MS: toMS(sorted[p99Idx]),
		MaxMS: toMS(sorted[n-1]),
		AvgMS: toMS(avg),
	}
}
