package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks order, valuation, and sync performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	OrderLatency     *LatencyHistogram
	RecomputeLatency *LatencyHistogram
	SyncLatency      *LatencyHistogram

	// Counters
	ordersPlaced   uint64
	orderFailures  uint64
	ticksProcessed uint64
	exitsTriggered uint64
	entryPasses    uint64
	syncs          uint64
	errorsCount    uint64

	// Gauges set from main.
	trackedConfigs int
	busDropped     int64

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples over a sliding window.
// Stats are recomputed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:     NewLatencyHistogram(1000),
		RecomputeLatency: NewLatencyHistogram(1000),
		SyncLatency:      NewLatencyHistogram(1000),
		lastUpdate:       time.Now(),
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
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Return cached stats if samples haven't changed
	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	// Compute new stats
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
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

// IncrementOrders counts an order accepted by the venue.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersPlaced, 1)
}

// IncrementOrderFailures counts an order the venue refused or that errored in transit.
func (m *SystemMetrics) IncrementOrderFailures() {
	atomic.AddUint64(&m.orderFailures, 1)
}

// IncrementTicks counts a tick routed to the RMS engine.
func (m *SystemMetrics) IncrementTicks() {
	atomic.AddUint64(&m.ticksProcessed, 1)
}

// IncrementExits counts an exit convergence started.
func (m *SystemMetrics) IncrementExits() {
	atomic.AddUint64(&m.exitsTriggered, 1)
}

// IncrementEntryPasses counts an entry convergence pass started.
func (m *SystemMetrics) IncrementEntryPasses() {
	atomic.AddUint64(&m.entryPasses, 1)
}

// IncrementSyncs counts a Position Source sync cycle.
func (m *SystemMetrics) IncrementSyncs() {
	atomic.AddUint64(&m.syncs, 1)
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats `json:"order_latency"`
	RecomputeLatency LatencyStats `json:"recompute_latency"`
	SyncLatency      LatencyStats `json:"sync_latency"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	OrderFailures    uint64       `json:"order_failures"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	ExitsTriggered   uint64       `json:"exits_triggered"`
	EntryPasses      uint64       `json:"entry_passes"`
	Syncs            uint64       `json:"syncs"`
	ErrorsCount      uint64       `json:"errors_count"`
	TrackedConfigs   int          `json:"tracked_configs"`
	BusDropped       int64        `json:"bus_dropped"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	tracked := m.trackedConfigs
	dropped := m.busDropped
	m.mu.RUnlock()

	return MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		RecomputeLatency: m.RecomputeLatency.Stats(),
		SyncLatency:      m.SyncLatency.Stats(),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		OrderFailures:    atomic.LoadUint64(&m.orderFailures),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		ExitsTriggered:   atomic.LoadUint64(&m.exitsTriggered),
		EntryPasses:      atomic.LoadUint64(&m.entryPasses),
		Syncs:            atomic.LoadUint64(&m.syncs),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		TrackedConfigs:   tracked,
		BusDropped:       dropped,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// SetGauges updates values sampled periodically from main.
func (m *SystemMetrics) SetGauges(trackedConfigs int, busDropped int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackedConfigs = trackedConfigs
	m.busDropped = busDropped
	m.lastUpdate = time.Now()
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
