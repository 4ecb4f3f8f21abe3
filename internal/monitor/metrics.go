package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks instruction outcomes and latencies. It implements
// vault.Recorder.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	RebalanceLatency   *LatencyHistogram
	InstructionLatency *LatencyHistogram
	KeeperLatency      *LatencyHistogram

	// Counters
	instructions     uint64
	rebalances       uint64
	noOps            uint64
	ordersPlaced     uint64
	validationErrors uint64
	marketErrors     uint64
	internalErrors   uint64

	perOp map[string]uint64

	busDropped func() uint64
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		RebalanceLatency:   NewLatencyHistogram(1000),
		InstructionLatency: NewLatencyHistogram(1000),
		KeeperLatency:      NewLatencyHistogram(200),
		perOp:              make(map[string]uint64),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveInstruction records one program instruction. failureKind is empty
// on success.
func (m *SystemMetrics) ObserveInstruction(op string, latency time.Duration, failureKind string) {
	atomic.AddUint64(&m.instructions, 1)
	m.InstructionLatency.RecordDuration(latency)
	if op == "rebalance" {
		m.RebalanceLatency.RecordDuration(latency)
	}

	m.mu.Lock()
	m.perOp[op]++
	m.mu.Unlock()

	switch failureKind {
	case "":
	case "validation":
		atomic.AddUint64(&m.validationErrors, 1)
	case "market":
		atomic.AddUint64(&m.marketErrors, 1)
	default:
		atomic.AddUint64(&m.internalErrors, 1)
	}
}

// ObserveRebalance records a committed rebalance.
func (m *SystemMetrics) ObserveRebalance(noOp bool, ordersPlaced int) {
	atomic.AddUint64(&m.rebalances, 1)
	if noOp {
		atomic.AddUint64(&m.noOps, 1)
	}
	if ordersPlaced > 0 {
		atomic.AddUint64(&m.ordersPlaced, uint64(ordersPlaced))
	}
}

// SetBusDropped wires the event bus drop counter into snapshots.
func (m *SystemMetrics) SetBusDropped(fn func() uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busDropped = fn
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	RebalanceLatency   LatencyStats      `json:"rebalance_latency"`
	InstructionLatency LatencyStats      `json:"instruction_latency"`
	KeeperLatency      LatencyStats      `json:"keeper_latency"`
	Instructions       uint64            `json:"instructions"`
	ByInstruction      map[string]uint64 `json:"by_instruction"`
	Rebalances         uint64            `json:"rebalances"`
	NoOps              uint64            `json:"no_ops"`
	OrdersPlaced       uint64            `json:"orders_placed"`
	ValidationErrors   uint64            `json:"validation_errors"`
	MarketErrors       uint64            `json:"market_errors"`
	InternalErrors     uint64            `json:"internal_errors"`
	BusDropped         uint64            `json:"bus_dropped"`
	GoroutineCount     int               `json:"goroutine_count"`
	HeapAlloc          uint64            `json:"heap_alloc_bytes"`
	HeapSys            uint64            `json:"heap_sys_bytes"`
	Timestamp          time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	perOp := make(map[string]uint64, len(m.perOp))
	for k, v := range m.perOp {
		perOp[k] = v
	}
	dropped := m.busDropped
	m.mu.RUnlock()

	snap := MetricsSnapshot{
		RebalanceLatency:   m.RebalanceLatency.Stats(),
		InstructionLatency: m.InstructionLatency.Stats(),
		KeeperLatency:      m.KeeperLatency.Stats(),
		Instructions:       atomic.LoadUint64(&m.instructions),
		ByInstruction:      perOp,
		Rebalances:         atomic.LoadUint64(&m.rebalances),
		NoOps:              atomic.LoadUint64(&m.noOps),
		OrdersPlaced:       atomic.LoadUint64(&m.ordersPlaced),
		ValidationErrors:   atomic.LoadUint64(&m.validationErrors),
		MarketErrors:       atomic.LoadUint64(&m.marketErrors),
		InternalErrors:     atomic.LoadUint64(&m.internalErrors),
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		HeapSys:            memStats.HeapSys,
		Timestamp:          time.Now(),
	}
	if dropped != nil {
		snap.BusDropped = dropped()
	}
	return snap
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
