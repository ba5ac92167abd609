package domain

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by Conn operations after Close.
var ErrConnClosed = errors.New("connection is closed")

// Conn is one live bidirectional channel carrying framed messages. A
// malformed frame fails only the receive that read it; previously framed
// data is never cross-contaminated. Close is idempotent.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens client connections to one server endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// ConnMeta describes an accepted connection for the authentication
// collaborator.
type ConnMeta struct {
	Transport  string
	RemoteAddr string
	Headers    map[string]string
}

// Authenticator approves or rejects a connection before it turns Active.
// Implementations are external collaborators; rejection closes the
// connection without the protocol layer dispatching anything.
type Authenticator interface {
	Authenticate(ctx context.Context, meta ConnMeta) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, meta ConnMeta) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, meta ConnMeta) error {
	return f(ctx, meta)
}

// AllowAll approves every connection.
func AllowAll() Authenticator {
	return AuthenticatorFunc(func(context.Context, ConnMeta) error { return nil })
}
