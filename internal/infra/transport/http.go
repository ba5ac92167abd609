package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"tipr/internal/domain"
)

// HTTPDialerOptions configures the HTTP transport variant. One logical
// protocol call maps to one POST request; the response body, when present,
// is the reply envelope.
type HTTPDialerOptions struct {
	Endpoint string
	Headers  map[string]string
	Client   *http.Client
}

type HTTPDialer struct {
	opts HTTPDialerOptions
}

func NewHTTPDialer(opts HTTPDialerOptions) (*HTTPDialer, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("http dialer requires an endpoint")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &HTTPDialer{opts: opts}, nil
}

func (d *HTTPDialer) Dial(ctx context.Context) (domain.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpConn{
		endpoint: d.opts.Endpoint,
		headers:  d.opts.Headers,
		client:   d.opts.Client,
		recvCh:   make(chan []byte, 16),
		closed:   make(chan struct{}),
	}, nil
}

// httpConn is a logical connection: each Send posts one frame and queues
// any reply body for Recv. A transport-level failure poisons the conn so
// the pool replaces it, matching the byte-stream variants' semantics.
type httpConn struct {
	endpoint string
	headers  map[string]string
	client   *http.Client

	recvCh    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *httpConn) Send(ctx context.Context, frame []byte) error {
	const op = "transport.http.send"
	select {
	case <-c.closed:
		return domain.E(domain.CodeConnectionLost, op, "", domain.ErrConnClosed)
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(frame))
	if err != nil {
		return domain.E(domain.CodeTransportError, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.E(domain.CodeTransportError, op, "post frame", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return domain.E(domain.CodeTransportError, op, "read reply", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return domain.E(domain.CodeTransportError, op, "endpoint returned "+resp.Status, nil)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	select {
	case c.recvCh <- body:
		return nil
	case <-c.closed:
		return domain.E(domain.CodeConnectionLost, op, "", domain.ErrConnClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *httpConn) Recv(ctx context.Context) ([]byte, error) {
	const op = "transport.http.recv"
	select {
	case frame := <-c.recvCh:
		return frame, nil
	case <-c.closed:
		return nil, domain.E(domain.CodeConnectionLost, op, "", domain.ErrConnClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *httpConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
