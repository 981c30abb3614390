package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xec",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests against the daemon.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xec",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xec",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Commands dispatched through the engine.",
		},
		[]string{"adapter", "outcome"},
	)
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xec",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)
	retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xec",
			Subsystem: "engine",
			Name:      "retry_attempts_total",
			Help:      "Retry sleeps taken between command attempts.",
		},
		[]string{"adapter"},
	)
	poolConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xec",
			Subsystem: "ssh",
			Name:      "pool_connections",
			Help:      "Live pooled SSH connections.",
		},
	)
	poolWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xec",
			Subsystem: "ssh",
			Name:      "pool_waiters",
			Help:      "Acquires queued on a full pool.",
		},
	)
	openTunnels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "xec",
			Subsystem: "ssh",
			Name:      "tunnels_open",
			Help:      "Open SSH port-forward tunnels.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			executions, executionDuration, retryAttempts,
			poolConnections, poolWaiters, openTunnels,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordExecution(adapter, outcome string, duration time.Duration) {
	RegisterMetrics()
	executions.WithLabelValues(adapter, outcome).Inc()
	executionDuration.WithLabelValues(adapter).Observe(duration.Seconds())
}

func RecordRetryAttempt(adapter string) {
	RegisterMetrics()
	retryAttempts.WithLabelValues(adapter).Inc()
}

func PoolConnectionOpened() { RegisterMetrics(); poolConnections.Inc() }
func PoolConnectionClosed() { RegisterMetrics(); poolConnections.Dec() }
func PoolWaiterQueued()     { RegisterMetrics(); poolWaiters.Inc() }
func PoolWaiterReleased()   { RegisterMetrics(); poolWaiters.Dec() }
func TunnelOpened()         { RegisterMetrics(); openTunnels.Inc() }
func TunnelClosed()         { RegisterMetrics(); openTunnels.Dec() }
