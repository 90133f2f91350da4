package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Config holds metrics configuration.
type Config struct {
	// EnableTargetLabel controls whether per-target names are used as a
	// metric label. Disabling it collapses all targets onto "*" to bound
	// cardinality on a host mapping many targets.
	EnableTargetLabel bool
}

// Metrics holds all application metrics.
type Metrics struct {
	config Config

	sectorOpsTotal   *prometheus.CounterVec
	sectorOpDuration *prometheus.HistogramVec
	sectorOpErrors   *prometheus.CounterVec
	sectorBytesTotal *prometheus.CounterVec

	pagePoolHits   *prometheus.CounterVec
	pagePoolMisses *prometheus.CounterVec
	rloPoolHits    *prometheus.CounterVec
	rloPoolMisses  *prometheus.CounterVec

	workerQueueDepth *prometheus.GaugeVec
	asyncInFlight    *prometheus.GaugeVec

	activeTargets    prometheus.Gauge
	goroutines       prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	memorySysBytes   prometheus.Gauge

	hardwareAccelerationEnabled *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance with default configuration.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableTargetLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom registry.
// This is useful for testing to avoid metric registration conflicts.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableTargetLabel: true})
}

// newMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		sectorOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrypt_sector_ops_total",
				Help: "Total number of sector encrypt/decrypt operations",
			},
			[]string{"target", "operation"}, // operation: "encrypt" or "decrypt"
		),
		sectorOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockcrypt_sector_op_duration_seconds",
				Help:    "Sector encrypt/decrypt duration in seconds",
				Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
			},
			[]string{"target", "operation"},
		),
		sectorOpErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrypt_sector_op_errors_total",
				Help: "Total number of sector encrypt/decrypt errors",
			},
			[]string{"target", "operation", "error_type"},
		),
		sectorBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrypt_sector_bytes_total",
				Help: "Total bytes encrypted/decrypted",
			},
			[]string{"target", "operation"},
		),
		pagePoolHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrypt_page_pool_hits_total",
				Help: "Total number of page pool reserve draws",
			},
			[]string{"target"},
		),
		pagePoolMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrypt_page_pool_misses_total",
				Help: "Total number of page pool allocations that fell back to a fresh page",
			},
			[]string{"target"},
		),
		rloPoolHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrypt_rlo_pool_hits_total",
				Help: "Total number of request-lifecycle-object reserve draws",
			},
			[]string{"target"},
		),
		rloPoolMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcrypt_rlo_pool_misses_total",
				Help: "Total number of RLO pool allocations that fell back to a fresh object",
			},
			[]string{"target"},
		),
		workerQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockcrypt_worker_queue_depth",
				Help: "Number of jobs currently buffered in the crypto worker queue",
			},
			[]string{"target"},
		),
		asyncInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockcrypt_async_cipher_in_flight",
				Help: "Number of sector conversions currently in flight on the async cipher engine",
			},
			[]string{"target"},
		),
		activeTargets: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcrypt_active_targets",
				Help: "Number of currently constructed (non-removed) targets",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcrypt_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcrypt_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcrypt_memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
		hardwareAccelerationEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockcrypt_hardware_acceleration_enabled",
				Help: "Hardware acceleration status (1=enabled, 0=disabled)",
			},
			[]string{"type"},
		),
	}
}

func (m *Metrics) targetLabel(target string) string {
	if !m.config.EnableTargetLabel {
		return "*"
	}
	return target
}

// SetHardwareAccelerationStatus sets the hardware acceleration status metric.
func (m *Metrics) SetHardwareAccelerationStatus(accelType string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAccelerationEnabled.WithLabelValues(accelType).Set(val)
}

// GetHardwareAccelerationEnabledMetric returns the hardware acceleration enabled metric (for testing).
func (m *Metrics) GetHardwareAccelerationEnabledMetric() *prometheus.GaugeVec {
	return m.hardwareAccelerationEnabled
}

// RecordSectorOp records a sector encrypt/decrypt operation.
func (m *Metrics) RecordSectorOp(target, operation string, duration time.Duration, bytes int64) {
	label := m.targetLabel(target)
	m.sectorOpsTotal.WithLabelValues(label, operation).Inc()
	m.sectorOpDuration.WithLabelValues(label, operation).Observe(duration.Seconds())
	m.sectorBytesTotal.WithLabelValues(label, operation).Add(float64(bytes))
}

// RecordSectorOpError records a sector encrypt/decrypt error.
func (m *Metrics) RecordSectorOpError(target, operation, errorType string) {
	m.sectorOpErrors.WithLabelValues(m.targetLabel(target), operation, errorType).Inc()
}

// RecordPagePoolDraw records a page pool draw, distinguishing a reserve
// hit from a fresh-allocation miss.
func (m *Metrics) RecordPagePoolDraw(target string, hit bool) {
	label := m.targetLabel(target)
	if hit {
		m.pagePoolHits.WithLabelValues(label).Inc()
	} else {
		m.pagePoolMisses.WithLabelValues(label).Inc()
	}
}

// RecordRLOPoolDraw records an RLO pool draw.
func (m *Metrics) RecordRLOPoolDraw(target string, hit bool) {
	label := m.targetLabel(target)
	if hit {
		m.rloPoolHits.WithLabelValues(label).Inc()
	} else {
		m.rloPoolMisses.WithLabelValues(label).Inc()
	}
}

// SetWorkerQueueDepth records the current backlog depth of a target's crypto worker queue.
func (m *Metrics) SetWorkerQueueDepth(target string, depth int) {
	m.workerQueueDepth.WithLabelValues(m.targetLabel(target)).Set(float64(depth))
}

// SetAsyncInFlight records the current in-flight count of a target's async cipher engine.
func (m *Metrics) SetAsyncInFlight(target string, n int) {
	m.asyncInFlight.WithLabelValues(m.targetLabel(target)).Set(float64(n))
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// IncrementActiveTargets increments the active-targets gauge.
func (m *Metrics) IncrementActiveTargets() {
	m.activeTargets.Inc()
}

// DecrementActiveTargets decrements the active-targets gauge.
func (m *Metrics) DecrementActiveTargets() {
	m.activeTargets.Dec()
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
