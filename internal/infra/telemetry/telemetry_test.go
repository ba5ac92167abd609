package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"tipr/internal/domain"
)

func TestPrometheusMetricsRegisterAndObserve(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.ObserveDispatch("echo", 12*time.Millisecond, "")
	metrics.ObserveDispatch("echo", 40*time.Millisecond, domain.CodeTimeout)
	metrics.ObserveRateLimitDenial("echo")
	metrics.ObserveClientCall("echo", 15*time.Millisecond, "")
	metrics.ObserveRetry("echo")
	metrics.SetPoolConnections(3)
	metrics.ObserveHealthCheck(time.Millisecond, nil)
	metrics.ObserveScan(domain.ScanModeFull, 80*time.Millisecond)
	metrics.ObserveScanFailure("manifest:/tmp/tools")
	metrics.SetRegisteredTools(7)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{
		"tipr_dispatch_duration_seconds",
		"tipr_rate_limit_denials_total",
		"tipr_client_calls_total",
		"tipr_client_call_duration_seconds",
		"tipr_client_retries_total",
		"tipr_pool_connections",
		"tipr_health_checks_total",
		"tipr_discovery_scan_duration_seconds",
		"tipr_discovery_failures_total",
		"tipr_registered_tools",
	} {
		require.True(t, names[want], "missing metric family %s", want)
	}
}

func TestHealthTrackerReport(t *testing.T) {
	tracker := NewHealthTracker()
	require.Equal(t, "ok", tracker.Report().Status)

	tracker.SetComponent("discovery", "ok")
	tracker.SetComponent("server", "ok")
	require.Equal(t, "ok", tracker.Report().Status)

	tracker.SetComponent("server", "draining")
	report := tracker.Report()
	require.Equal(t, "degraded", report.Status)
	require.Equal(t, "draining", report.Components["server"])
}

func TestRequestIDContext(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	require.False(t, ok)

	ctx := WithRequestID(context.Background(), "")
	requestID, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	require.NotEmpty(t, requestID)

	ctx = WithRequestID(context.Background(), "fixed")
	requestID, ok = RequestIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "fixed", requestID)
}
