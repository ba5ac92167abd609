package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tipr/internal/domain"
)

// pool lends out connections up to a fixed cap, dialing lazily on first
// demand. Dead connections are discarded on return or on checkout, freeing
// their slot for a fresh dial.
type pool struct {
	dialer domain.Dialer
	logger *zap.Logger
	max    int

	idle chan *clientConn

	mu     sync.Mutex
	total  int
	closed bool

	onSizeChange func(count int)
}

func newPool(dialer domain.Dialer, max int, logger *zap.Logger, onSizeChange func(int)) *pool {
	if max <= 0 {
		max = domain.DefaultPoolMaxSize
	}
	if onSizeChange == nil {
		onSizeChange = func(int) {}
	}
	return &pool{
		dialer:       dialer,
		logger:       logger,
		max:          max,
		idle:         make(chan *clientConn, max),
		onSizeChange: onSizeChange,
	}
}

func (p *pool) acquire(ctx context.Context) (*clientConn, error) {
	const op = "client.pool"
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, domain.E(domain.CodeCancelled, op, "pool is closed", nil)
		}
		p.mu.Unlock()

		select {
		case conn := <-p.idle:
			if conn.healthy() {
				return conn, nil
			}
			p.forget(conn)
			continue
		default:
		}

		p.mu.Lock()
		if p.total < p.max {
			p.total++
			p.mu.Unlock()
			conn, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}
			return conn, nil
		}
		p.mu.Unlock()

		// At capacity: wait for a connection to come back.
		select {
		case conn := <-p.idle:
			if conn.healthy() {
				return conn, nil
			}
			p.forget(conn)
		case <-ctx.Done():
			code, _ := domain.CodeFrom(ctx.Err())
			return nil, domain.E(code, op, "awaiting pooled connection", ctx.Err())
		}
	}
}

func (p *pool) dial(ctx context.Context) (*clientConn, error) {
	raw, err := p.dialer.Dial(ctx)
	if err != nil {
		return nil, domain.E(domain.CodeTransportError, "client.dial", "dial endpoint", err)
	}
	p.notifySize()
	return newClientConn(raw, p.logger), nil
}

// release returns a connection to the idle set, or retires it when it died
// in the caller's hands.
func (p *pool) release(conn *clientConn) {
	if !conn.healthy() {
		p.forget(conn)
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		conn.close()
		return
	}
	select {
	case p.idle <- conn:
	default:
		// Should not happen with a cap-sized channel, but never block.
		p.forget(conn)
	}
}

func (p *pool) forget(conn *clientConn) {
	conn.close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.notifySize()
}

func (p *pool) notifySize() {
	p.mu.Lock()
	count := p.total
	p.mu.Unlock()
	p.onSizeChange(count)
}

func (p *pool) closeAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			p.forget(conn)
		default:
			return
		}
	}
}
