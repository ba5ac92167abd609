package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tipr/internal/domain"
)

// PrometheusMetrics implements domain.Metrics on a prometheus registry.
type PrometheusMetrics struct {
	dispatchDuration  *prometheus.HistogramVec
	rateLimitDenials  *prometheus.CounterVec
	clientCalls       *prometheus.CounterVec
	clientCallLatency *prometheus.HistogramVec
	clientRetries     *prometheus.CounterVec
	poolConnections   prometheus.Gauge
	healthChecks      *prometheus.CounterVec
	scanDuration      *prometheus.HistogramVec
	scanFailures      *prometheus.CounterVec
	registeredTools   prometheus.Gauge
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tipr_dispatch_duration_seconds",
				Help:    "Duration of server-side tool dispatches in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool", "status"},
		),
		rateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tipr_rate_limit_denials_total",
				Help: "Total admission checks denied by the per-tool rate limiter",
			},
			[]string{"tool"},
		),
		clientCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tipr_client_calls_total",
				Help: "Total client calls by final outcome",
			},
			[]string{"tool", "status"},
		),
		clientCallLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tipr_client_call_duration_seconds",
				Help:    "End-to-end client call duration in seconds, retries included",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool"},
		),
		clientRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tipr_client_retries_total",
				Help: "Total retry attempts dispatched by the client",
			},
			[]string{"tool"},
		),
		poolConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tipr_pool_connections",
				Help: "Current number of live pooled connections",
			},
		),
		healthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tipr_health_checks_total",
				Help: "Total connection health probes by result",
			},
			[]string{"result"},
		),
		scanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tipr_discovery_scan_duration_seconds",
				Help:    "Duration of discovery scans in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15},
			},
			[]string{"mode"},
		),
		scanFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tipr_discovery_failures_total",
				Help: "Total discovery location failures",
			},
			[]string{"location"},
		),
		registeredTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tipr_registered_tools",
				Help: "Current number of registered tools",
			},
		),
	}
}

func (m *PrometheusMetrics) ObserveDispatch(tool string, duration time.Duration, code domain.ErrorCode) {
	m.dispatchDuration.WithLabelValues(tool, dispatchStatus(code)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveRateLimitDenial(tool string) {
	m.rateLimitDenials.WithLabelValues(tool).Inc()
}

func (m *PrometheusMetrics) ObserveClientCall(tool string, duration time.Duration, code domain.ErrorCode) {
	m.clientCalls.WithLabelValues(tool, dispatchStatus(code)).Inc()
	m.clientCallLatency.WithLabelValues(tool).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveRetry(tool string) {
	m.clientRetries.WithLabelValues(tool).Inc()
}

func (m *PrometheusMetrics) SetPoolConnections(count int) {
	m.poolConnections.Set(float64(count))
}

func (m *PrometheusMetrics) ObserveHealthCheck(_ time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.healthChecks.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) ObserveScan(mode domain.ScanMode, duration time.Duration) {
	m.scanDuration.WithLabelValues(string(mode)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveScanFailure(location string) {
	m.scanFailures.WithLabelValues(location).Inc()
}

func (m *PrometheusMetrics) SetRegisteredTools(count int) {
	m.registeredTools.Set(float64(count))
}

func dispatchStatus(code domain.ErrorCode) string {
	if code == "" {
		return string(domain.DispatchStatusSuccess)
	}
	return string(code)
}
