package client

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/telemetry"
)

const cancelSendTimeout = time.Second

// Options configures a Client.
type Options struct {
	Dialer  domain.Dialer
	Config  domain.ClientConfig
	Retry   domain.RetryPolicy
	Health  domain.HealthConfig
	Metrics domain.Metrics
	Logger  *zap.Logger
}

// Client issues tool calls over a bounded connection pool. Calls retry per
// the configured policy; only transient codes are retried, and every retry
// is a brand-new correlation ID.
type Client struct {
	pool        *pool
	retry       domain.RetryPolicy
	health      domain.HealthConfig
	metrics     domain.Metrics
	logger      *zap.Logger
	callTimeout time.Duration

	closeOnce sync.Once
	stop      chan struct{}
	stopped   sync.WaitGroup
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("client")
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = domain.DefaultRetryMaxAttempts
	}
	if retry.BaseDelayMS <= 0 {
		retry.BaseDelayMS = domain.DefaultRetryBaseDelayMS
	}
	if retry.Multiplier <= 1 {
		retry.Multiplier = domain.DefaultRetryMultiplier
	}
	if retry.MaxDelayMS <= 0 {
		retry.MaxDelayMS = domain.DefaultRetryMaxDelayMS
	}

	c := &Client{
		pool:        newPool(opts.Dialer, opts.Config.PoolMaxSize, logger, metrics.SetPoolConnections),
		retry:       retry,
		health:      opts.Health,
		metrics:     metrics,
		logger:      logger,
		callTimeout: opts.Config.CallTimeout(),
		stop:        make(chan struct{}),
	}
	c.stopped.Add(1)
	go c.healthLoop()
	return c
}

// Call invokes a tool and returns its result payload. The context bounds
// the whole call including retries; each attempt additionally respects the
// configured call timeout.
func (c *Client) Call(ctx context.Context, tool string, payload json.RawMessage) (json.RawMessage, error) {
	started := time.Now()
	result, err := c.callWithRetry(ctx, tool, payload)

	code, _ := domain.CodeFrom(err)
	c.metrics.ObserveClientCall(tool, time.Since(started), code)
	return result, err
}

func (c *Client) callWithRetry(ctx context.Context, tool string, payload json.RawMessage) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoffDelay(attempt)
			c.metrics.ObserveRetry(tool)
			c.logger.Debug("retrying call",
				telemetry.EventField(telemetry.EventCallRetry),
				telemetry.ToolField(tool),
				telemetry.AttemptField(attempt),
				telemetry.DurationField(delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, domain.E(domain.CodeCancelled, "client.call", "cancelled between attempts", ctx.Err())
			}
		}

		result, err := c.callOnce(ctx, tool, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !c.retry.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// backoffDelay computes the pause before the given attempt: doubling (or the
// configured multiplier) from the base, capped at the max, plus jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retry.BaseDelay()
	for i := 2; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.retry.Multiplier)
		if delay >= c.retry.MaxDelay() {
			delay = c.retry.MaxDelay()
			break
		}
	}
	if delay > c.retry.MaxDelay() {
		delay = c.retry.MaxDelay()
	}
	if jitter := c.retry.Jitter(); jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	return delay
}

func (c *Client) callOnce(ctx context.Context, tool string, payload json.RawMessage) (json.RawMessage, error) {
	const op = "client.call"

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	conn, err := c.pool.acquire(callCtx)
	if err != nil {
		return nil, err
	}
	defer c.pool.release(conn)

	deadlineMS := int64(c.callTimeout / time.Millisecond)
	if deadline, ok := callCtx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			deadlineMS = int64(remaining / time.Millisecond)
		}
	}

	env := domain.NewRequest(uuid.NewString(), tool, payload, deadlineMS)
	reply, err := conn.roundTrip(callCtx, env)
	if err != nil {
		return nil, err
	}

	switch reply.Kind {
	case domain.KindResponse:
		return reply.Payload, nil
	case domain.KindError:
		return nil, &domain.Error{Code: reply.ErrorCode, Op: op, Message: reply.ErrorMessage}
	default:
		return nil, domain.E(domain.CodeProtocolError, op, "unexpected reply kind: "+string(reply.Kind), nil)
	}
}

// Ping probes the server's control surface once, without retries.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.health.Timeout())
	defer cancel()

	conn, err := c.pool.acquire(pingCtx)
	if err != nil {
		return err
	}
	defer c.pool.release(conn)

	reply, err := conn.roundTrip(pingCtx, domain.NewRequest(uuid.NewString(), domain.ToolPing, nil, int64(c.health.Timeout()/time.Millisecond)))
	if err != nil {
		// A connection that cannot answer a ping is retired; the pool
		// dials a replacement on the next checkout.
		conn.close()
		return err
	}
	if reply.Kind != domain.KindResponse {
		return &domain.Error{Code: reply.ErrorCode, Op: "client.ping", Message: reply.ErrorMessage}
	}
	return nil
}

// ListTools fetches the server's registry snapshot.
func (c *Client) ListTools(ctx context.Context) ([]domain.ToolInfo, error) {
	payload, err := c.Call(ctx, domain.ToolList, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Tools []domain.ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.E(domain.CodeProtocolError, "client.list", "decode tool list", err)
	}
	return body.Tools, nil
}

// healthLoop pings the server on the configured interval. A failed probe
// retires the probed connection; the pool redials on the next checkout.
func (c *Client) healthLoop() {
	defer c.stopped.Done()
	ticker := time.NewTicker(c.health.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			started := time.Now()
			err := c.Ping(context.Background())
			c.metrics.ObserveHealthCheck(time.Since(started), err)
			if err != nil {
				c.logger.Warn("health check failed",
					telemetry.EventField(telemetry.EventHealthCheckFail),
					zap.Error(err))
			}
		}
	}
}

// Close stops the health checker and closes every pooled connection.
// In-flight calls fail with CONNECTION_LOST.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.pool.closeAll()
	})
	c.stopped.Wait()
	return nil
}
