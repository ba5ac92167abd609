package domain

import "time"

// DispatchStatus labels the outcome of a dispatched request.
type DispatchStatus string

const (
	DispatchStatusSuccess DispatchStatus = "success"
	DispatchStatusError   DispatchStatus = "error"
)

// ScanMode labels a discovery pass.
type ScanMode string

const (
	ScanModeFull        ScanMode = "full"
	ScanModeIncremental ScanMode = "incremental"
)

// Metrics records operational metrics for the runtime. Implementations must
// be safe for concurrent use.
type Metrics interface {
	ObserveDispatch(tool string, duration time.Duration, code ErrorCode)
	ObserveRateLimitDenial(tool string)
	ObserveClientCall(tool string, duration time.Duration, code ErrorCode)
	ObserveRetry(tool string)
	SetPoolConnections(count int)
	ObserveHealthCheck(duration time.Duration, err error)
	ObserveScan(mode ScanMode, duration time.Duration)
	ObserveScanFailure(location string)
	SetRegisteredTools(count int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveDispatch(string, time.Duration, ErrorCode)   {}
func (NopMetrics) ObserveRateLimitDenial(string)                      {}
func (NopMetrics) ObserveClientCall(string, time.Duration, ErrorCode) {}
func (NopMetrics) ObserveRetry(string)                                {}
func (NopMetrics) SetPoolConnections(int)                             {}
func (NopMetrics) ObserveHealthCheck(time.Duration, error)            {}
func (NopMetrics) ObserveScan(ScanMode, time.Duration)                {}
func (NopMetrics) ObserveScanFailure(string)                          {}
func (NopMetrics) SetRegisteredTools(int)                             {}
