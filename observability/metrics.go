package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	auctionMetricsOnce sync.Once
	auctionRegistry    *AuctionMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// AuctionMetrics tracks house operations and outbox delivery.
type AuctionMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	deliveries *prometheus.CounterVec
	backlog    prometheus.Gauge
	height     prometheus.Gauge
}

// Auction returns the singleton auction metrics registry.
func Auction() *AuctionMetrics {
	auctionMetricsOnce.Do(func() {
		auctionRegistry = newAuctionMetrics()
		prometheus.MustRegister(
			auctionRegistry.operations,
			auctionRegistry.latency,
			auctionRegistry.deliveries,
			auctionRegistry.backlog,
			auctionRegistry.height,
		)
	})
	return auctionRegistry
}

func newAuctionMetrics() *AuctionMetrics {
	return &AuctionMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "house",
			Name:      "operations_total",
			Help:      "House operations segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "house",
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside the single-writer lock per operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox delivery attempts segmented by resulting status.",
		}, []string{"status"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Intent groups awaiting delivery.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "chain",
			Name:      "height",
			Help:      "Current ledger height.",
		}),
	}
}

// ObserveOperation records one house operation.
func (m *AuctionMetrics) ObserveOperation(method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDelivery counts an outbox delivery attempt by status.
func (m *AuctionMetrics) RecordDelivery(status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
}

// SetBacklog publishes the outbox backlog.
func (m *AuctionMetrics) SetBacklog(n uint64) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}

// SetHeight publishes the current height.
func (m *AuctionMetrics) SetHeight(h uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(h))
}
