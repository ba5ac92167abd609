// Package server implements the invocation side of the protocol: it accepts
// connections, applies admission control, and dispatches request envelopes to
// registered tool handlers. Every request yields exactly one reply envelope
// carrying the request's correlation ID.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/ratelimit"
	"tipr/internal/infra/telemetry"
)

// inflightTracker indexes the cancel functions of in-flight requests so a
// cancel notification can reach them. Scoped to one connection: a caller can
// only cancel its own requests.
type inflightTracker struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func newInflightTracker() *inflightTracker {
	return &inflightTracker{m: make(map[string]context.CancelFunc)}
}

func (t *inflightTracker) add(id string, cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.m[id]; exists {
		return false
	}
	t.m[id] = cancel
	return true
}

func (t *inflightTracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, id)
}

func (t *inflightTracker) cancel(id string) bool {
	t.mu.Lock()
	cancel, ok := t.m[id]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// dispatcher turns one request envelope into one reply envelope. It is
// shared by the stream and HTTP surfaces.
type dispatcher struct {
	registry    domain.Registry
	limiter     *ratelimit.Limiter
	metrics     domain.Metrics
	logger      *zap.Logger
	callTimeout time.Duration
}

type invokeResult struct {
	payload json.RawMessage
	err     error
}

// dispatch handles env (kind request) and returns its reply. ctx bounds the
// connection lifetime; the per-request deadline is layered on top. tracker
// may be nil when the surface cannot deliver cancel notifications.
func (d *dispatcher) dispatch(ctx context.Context, env domain.Envelope, tracker *inflightTracker) domain.Envelope {
	started := time.Now()
	reply := d.dispatchInner(ctx, env, tracker)

	code := reply.ErrorCode
	d.metrics.ObserveDispatch(env.Tool, time.Since(started), code)
	if reply.Kind == domain.KindError {
		d.logger.Debug("request failed",
			telemetry.EventField(telemetry.EventDispatchError),
			telemetry.CallIDField(env.ID),
			telemetry.ToolField(env.Tool),
			zap.String("code", string(code)))
	}
	return reply
}

func (d *dispatcher) dispatchInner(ctx context.Context, env domain.Envelope, tracker *inflightTracker) domain.Envelope {
	if domain.ReservedToolName(env.Tool) {
		return d.dispatchControl(env)
	}

	tool, ok := d.registry.Lookup(env.Tool)
	if !ok {
		return domain.NewErrorEnvelope(env.ID, domain.CodeToolNotFound, "tool not registered: "+env.Tool)
	}

	if !d.limiter.Allow(env.Tool) {
		d.metrics.ObserveRateLimitDenial(env.Tool)
		d.logger.Debug("request rejected by rate limiter",
			telemetry.EventField(telemetry.EventRateLimited),
			telemetry.CallIDField(env.ID),
			telemetry.ToolField(env.Tool))
		return domain.NewErrorEnvelope(env.ID, domain.CodeRateLimited, "rate limit exceeded for "+env.Tool)
	}

	timeout := d.callTimeout
	if env.DeadlineMS > 0 {
		if requested := time.Duration(env.DeadlineMS) * time.Millisecond; requested < timeout {
			timeout = requested
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if tracker != nil {
		if !tracker.add(env.ID, cancel) {
			return domain.NewErrorEnvelope(env.ID, domain.CodeProtocolError, "duplicate in-flight request id")
		}
		defer tracker.remove(env.ID)
	}

	results := make(chan invokeResult, 1)
	go func() {
		payload, err := tool.Handler.Invoke(callCtx, env.Payload)
		results <- invokeResult{payload: payload, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			code, ok := domain.CodeFrom(res.err)
			if !ok {
				code = domain.CodeToolExecutionError
			}
			return domain.NewErrorEnvelope(env.ID, code, res.err.Error())
		}
		return domain.NewResponse(env.ID, res.payload)
	case <-callCtx.Done():
		// The reply is decided here; whatever the handler eventually
		// produces is discarded.
		go d.logLateResult(env, results, time.Now())
		if ctx.Err() != nil || callCtx.Err() == context.Canceled {
			return domain.NewErrorEnvelope(env.ID, domain.CodeCancelled, "request cancelled")
		}
		d.logger.Warn("handler exceeded deadline",
			telemetry.EventField(telemetry.EventDispatchTimeout),
			telemetry.CallIDField(env.ID),
			telemetry.ToolField(env.Tool),
			telemetry.DurationField(timeout))
		return domain.NewErrorEnvelope(env.ID, domain.CodeTimeout, "deadline exceeded after "+timeout.String())
	}
}

func (d *dispatcher) logLateResult(env domain.Envelope, results <-chan invokeResult, abandonedAt time.Time) {
	res := <-results
	d.logger.Debug("discarding late handler result",
		telemetry.EventField(telemetry.EventLateResult),
		telemetry.CallIDField(env.ID),
		telemetry.ToolField(env.Tool),
		telemetry.DurationField(time.Since(abandonedAt)),
		zap.Bool("handler_errored", res.err != nil))
}

// dispatchControl serves the sys.* namespace. Control operations bypass tool
// rate limits so operator probes stay responsive under load.
func (d *dispatcher) dispatchControl(env domain.Envelope) domain.Envelope {
	switch env.Tool {
	case domain.ToolPing:
		return domain.NewResponse(env.ID, json.RawMessage(`{"ok":true}`))
	case domain.ToolList:
		infos := make([]domain.ToolInfo, 0, d.registry.Len())
		for descriptor := range d.registry.List() {
			infos = append(infos, descriptor.Info())
		}
		payload, err := json.Marshal(map[string]any{"tools": infos})
		if err != nil {
			return domain.NewErrorEnvelope(env.ID, domain.CodeToolExecutionError, "encode tool list: "+err.Error())
		}
		return domain.NewResponse(env.ID, payload)
	case domain.ToolCancel:
		return domain.NewErrorEnvelope(env.ID, domain.CodeProtocolError, "sys.cancel is a notification, not a request")
	default:
		return domain.NewErrorEnvelope(env.ID, domain.CodeToolNotFound, "unknown control operation: "+env.Tool)
	}
}

// handleCancel processes a sys.cancel notification against the connection's
// in-flight set. Best effort: a miss (already completed, never seen) is not
// an error.
func (d *dispatcher) handleCancel(payload json.RawMessage, tracker *inflightTracker) {
	if tracker == nil {
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ID == "" {
		d.logger.Debug("ignoring malformed cancel notification", zap.Error(err))
		return
	}
	if tracker.cancel(body.ID) {
		d.logger.Debug("cancelled in-flight request", telemetry.CallIDField(body.ID))
	}
}
