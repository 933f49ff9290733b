// Package metrics provides Prometheus metrics for the fanout dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus metric the service exposes.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Dispatch metrics.
	deltasDispatched prometheus.Counter
	deliveries       *prometheus.CounterVec
	droppedUpdates   prometheus.Counter
	classifications  *prometheus.CounterVec
	pendingKeys      *prometheus.GaugeVec
	pendingItems     *prometheus.GaugeVec
	flushDuration    *prometheus.HistogramVec
	mergedBatchSize  *prometheus.HistogramVec

	// Subscriber and activity metrics.
	connections      prometheus.Gauge
	ledgerSize       prometheus.Gauge
	broadcastDropped prometheus.Counter

	// HTTP metrics.
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         prometheus.Counter

	// Error metrics.
	errorsByComponent *prometheus.CounterVec

	// System metrics.
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid the default Go collectors.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "keytempo",
		subsystem:        "fanout",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.deltasDispatched = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "deltas_dispatched_total",
		Help:      "Total number of deltas run through the dispatcher",
	})

	m.deliveries = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "updates_delivered_total",
			Help:      "Total updates handed to the transport, by tier",
		},
		[]string{"tier"},
	)

	m.droppedUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "updates_dropped_total",
		Help:      "Total pending deltas shed by bounded-store eviction",
	})

	m.classifications = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "classifications_total",
			Help:      "Subscriber tier classifications, by resulting tier",
		},
		[]string{"tier"},
	)

	m.pendingKeys = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "pending_topics",
			Help:      "Distinct topics with accumulated deltas, by tier",
		},
		[]string{"tier"},
	)

	m.pendingItems = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "pending_deltas",
			Help:      "Accumulated deltas awaiting flush, by tier",
		},
		[]string{"tier"},
	)

	m.flushDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "flush_duration_milliseconds",
			Help:      "Flush pass duration in milliseconds, by tier",
			Buckets:   m.histogramBuckets,
		},
		[]string{"tier"},
	)

	m.mergedBatchSize = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "merged_batch_size",
			Help:      "Number of deltas collapsed per merge, by tier",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		},
		[]string{"tier"},
	)

	m.connections = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connections",
		Help:      "Currently registered subscriber connections",
	})

	m.ledgerSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "activity_ledger_size",
		Help:      "Users tracked in the activity ledger",
	})

	m.broadcastDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "broadcast_dropped_total",
		Help:      "Updates dropped because a subscriber channel was full",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by endpoint, method, and status",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.rateLimited = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_rate_limited_total",
		Help:      "Ingestion requests rejected by the rate limiter",
	})

	m.errorsByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total errors by component and kind",
		},
		[]string{"component", "kind"},
	)

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_bytes",
		Help:      "Current allocated heap bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutines",
		Help:      "Current goroutine count",
	})
}

// Package-level helpers recording against the global manager.

// RecordDeltaDispatched counts one delta entering the dispatcher.
func RecordDeltaDispatched() {
	globalManager.deltasDispatched.Inc()
}

// RecordDelivery counts one update handed to the transport for tier.
func RecordDelivery(tier string) {
	globalManager.deliveries.WithLabelValues(tier).Inc()
}

// RecordDroppedUpdates adds n shed deltas to the dropped counter.
func RecordDroppedUpdates(n int) {
	globalManager.droppedUpdates.Add(float64(n))
}

// RecordClassification counts one classification result.
func RecordClassification(tier string) {
	globalManager.classifications.WithLabelValues(tier).Inc()
}

// UpdatePendingKeys sets the distinct-topic gauge for tier.
func UpdatePendingKeys(tier string, n int) {
	globalManager.pendingKeys.WithLabelValues(tier).Set(float64(n))
}

// UpdatePendingItems sets the accumulated-delta gauge for tier.
func UpdatePendingItems(tier string, n int) {
	globalManager.pendingItems.WithLabelValues(tier).Set(float64(n))
}

// RecordFlushDuration observes one flush pass for tier.
func RecordFlushDuration(tier string, ms float64) {
	globalManager.flushDuration.WithLabelValues(tier).Observe(ms)
}

// RecordMergedBatchSize observes how many deltas one merge collapsed.
func RecordMergedBatchSize(tier string, n int) {
	globalManager.mergedBatchSize.WithLabelValues(tier).Observe(float64(n))
}

// UpdateConnectionCount sets the registered-connection gauge.
func UpdateConnectionCount(n int) {
	globalManager.connections.Set(float64(n))
}

// UpdateLedgerSize sets the activity-ledger size gauge.
func UpdateLedgerSize(n int) {
	globalManager.ledgerSize.Set(float64(n))
}

// RecordBroadcastDropped counts one update dropped on a lagging subscriber.
func RecordBroadcastDropped() {
	globalManager.broadcastDropped.Inc()
}

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes one HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}

// RecordRateLimited counts one request rejected by the rate limiter.
func RecordRateLimited() {
	globalManager.rateLimited.Inc()
}

// RecordErrorByComponent counts one error for a component and kind.
func RecordErrorByComponent(component, kind string) {
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}

// UpdateSystemMemoryUsage sets the heap-bytes gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(n int) {
	globalManager.systemGoroutineCount.Set(float64(n))
}

// GetRegistry exposes the custom registry for the /metrics handler.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
