package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldTool       = "tool"
	FieldConnID     = "connID"
	FieldCallID     = "callID"
	FieldState      = "state"
	FieldLocation   = "location"
	FieldDurationMs = "duration_ms"
	FieldAttempt    = "attempt"
	FieldRequestID  = "request_id"
)

const (
	EventDispatchError    = "dispatch_error"
	EventDispatchTimeout  = "dispatch_timeout"
	EventLateResult       = "late_result"
	EventRateLimited      = "rate_limited"
	EventConnAccepted     = "conn_accepted"
	EventConnRejected     = "conn_rejected"
	EventConnDraining     = "conn_draining"
	EventConnClosed       = "conn_closed"
	EventConnLost         = "conn_lost"
	EventCallRetry        = "call_retry"
	EventHealthCheckFail  = "health_check_failure"
	EventScanStart        = "scan_start"
	EventScanComplete     = "scan_complete"
	EventScanLocationFail = "scan_location_failure"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func ConnIDField(connID string) zap.Field {
	return zap.String(FieldConnID, connID)
}

func CallIDField(callID string) zap.Field {
	return zap.String(FieldCallID, callID)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func LocationField(location string) zap.Field {
	return zap.String(FieldLocation, location)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func AttemptField(attempt int) zap.Field {
	return zap.Int(FieldAttempt, attempt)
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}
