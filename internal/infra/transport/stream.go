// Package transport provides the byte-stream channels the protocol runs
// over: a spawned-subprocess stdio pipe, HTTP request/response, and an
// in-memory pipe for in-process wiring and tests. Frames are newline-
// delimited on byte-stream variants; framing failures surface as transport
// errors and never corrupt previously framed data.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"tipr/internal/domain"
)

// maxFrameSize bounds a single newline-delimited frame.
const maxFrameSize = 16 << 20

// streamConn frames messages over a raw byte stream. A background pump
// goroutine owns the read side so Recv honors context cancellation.
type streamConn struct {
	w       io.Writer
	writeMu sync.Mutex

	recvCh chan []byte
	errCh  chan error

	closeOnce sync.Once
	closed    chan struct{}
	closeFn   func() error
}

// NewStreamConn frames messages over an arbitrary reader/writer pair, such
// as a process's own stdin/stdout when serving in stdio mode.
func NewStreamConn(r io.Reader, w io.Writer, closeFn func() error) domain.Conn {
	return newStreamConn(r, w, closeFn)
}

// newStreamConn wraps a reader/writer pair. closeFn releases the underlying
// channel and is invoked exactly once.
func newStreamConn(r io.Reader, w io.Writer, closeFn func() error) *streamConn {
	c := &streamConn{
		w:       w,
		recvCh:  make(chan []byte, 16),
		errCh:   make(chan error, 1),
		closed:  make(chan struct{}),
		closeFn: closeFn,
	}
	go c.pump(r)
	return c
}

func (c *streamConn) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxFrameSize)
	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())
		select {
		case c.recvCh <- frame:
		case <-c.closed:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *streamConn) Send(ctx context.Context, frame []byte) error {
	const op = "transport.send"
	select {
	case <-c.closed:
		return domain.E(domain.CodeConnectionLost, op, "", domain.ErrConnClosed)
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(append(frame, '\n')); err != nil {
		return domain.E(domain.CodeTransportError, op, "write frame", err)
	}
	return nil
}

func (c *streamConn) Recv(ctx context.Context) ([]byte, error) {
	const op = "transport.recv"
	// Frames already framed win over a queued read error, so a reply
	// delivered just before the peer closed is never dropped.
	select {
	case frame := <-c.recvCh:
		return frame, nil
	default:
	}

	select {
	case frame := <-c.recvCh:
		return frame, nil
	case err := <-c.errCh:
		// The pump queues the error only after the final frame; drain any
		// remaining frame before surfacing it.
		select {
		case frame := <-c.recvCh:
			select {
			case c.errCh <- err:
			default:
			}
			return frame, nil
		default:
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil, domain.E(domain.CodeConnectionLost, op, "stream closed", err)
		}
		return nil, domain.E(domain.CodeTransportError, op, "read frame", err)
	case <-c.closed:
		return nil, domain.E(domain.CodeConnectionLost, op, "", domain.ErrConnClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.closeFn != nil {
			err = c.closeFn()
		}
	})
	return err
}
