// Package client is the caller side of the protocol: a pooled connection
// manager with correlation-ID matching, retry with exponential backoff, and
// a background health checker.
package client

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/codec"
	"tipr/internal/infra/telemetry"
)

// clientConn multiplexes concurrent calls over one connection. A read loop
// owns the receive side and routes replies to waiters by correlation ID;
// when the connection dies every waiter fails with CONNECTION_LOST.
type clientConn struct {
	conn   domain.Conn
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]chan domain.Envelope
	closed  bool

	done chan struct{}
}

func newClientConn(conn domain.Conn, logger *zap.Logger) *clientConn {
	c := &clientConn{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan domain.Envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *clientConn) readLoop() {
	for {
		frame, err := c.conn.Recv(context.Background())
		if err != nil {
			c.fail(err)
			return
		}
		env, err := codec.Decode(frame)
		if err != nil {
			// One bad frame is not fatal; the call that was waiting for it
			// times out on its own deadline.
			c.logger.Debug("discarding undecodable frame", zap.Error(err))
			continue
		}
		c.mu.Lock()
		waiter, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("reply without waiter", telemetry.CallIDField(env.ID))
			continue
		}
		waiter <- env
	}
}

// fail marks the connection dead. Closing done releases every in-flight
// waiter at once.
func (c *clientConn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(map[string]chan domain.Envelope)
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()
	c.logger.Debug("connection lost", telemetry.EventField(telemetry.EventConnLost), zap.Error(err))
}

func (c *clientConn) healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *clientConn) close() {
	c.fail(domain.ErrConnClosed)
}

// roundTrip sends one request envelope and waits for its correlated reply.
// Exactly one outcome is delivered: the reply, a connection loss, or the
// context error.
func (c *clientConn) roundTrip(ctx context.Context, env domain.Envelope) (domain.Envelope, error) {
	const op = "client.roundtrip"

	waiter := make(chan domain.Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.Envelope{}, domain.E(domain.CodeConnectionLost, op, "", domain.ErrConnClosed)
	}
	c.pending[env.ID] = waiter
	c.mu.Unlock()

	frame, err := codec.Encode(env)
	if err != nil {
		c.abandon(env.ID)
		return domain.Envelope{}, err
	}
	if err := c.conn.Send(ctx, frame); err != nil {
		c.abandon(env.ID)
		return domain.Envelope{}, domain.E(domain.CodeConnectionLost, op, "send request", err)
	}

	select {
	case reply := <-waiter:
		return reply, nil
	case <-c.done:
		return domain.Envelope{}, domain.E(domain.CodeConnectionLost, op, "connection lost awaiting reply", nil)
	case <-ctx.Done():
		c.abandon(env.ID)
		c.sendCancel(env.ID)
		code, _ := domain.CodeFrom(ctx.Err())
		return domain.Envelope{}, domain.E(code, op, "abandoned awaiting reply", ctx.Err())
	}
}

func (c *clientConn) abandon(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// sendCancel tells the server the caller has given up on id. Best effort:
// failures only matter to the server's wasted work, not to the caller.
func (c *clientConn) sendCancel(id string) {
	payload, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return
	}
	frame, err := codec.Encode(domain.NewNotification(domain.ToolCancel, payload))
	if err != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.Background(), cancelSendTimeout)
	defer cancel()
	_ = c.conn.Send(sendCtx, frame)
}
