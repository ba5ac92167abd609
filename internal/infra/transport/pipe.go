package transport

import (
	"context"
	"net"

	"tipr/internal/domain"
)

// Pipe returns a connected in-memory conn pair. The client end is returned
// first. Used for in-process client/server wiring and tests.
func Pipe() (domain.Conn, domain.Conn) {
	clientSide, serverSide := net.Pipe()
	client := newStreamConn(clientSide, clientSide, clientSide.Close)
	server := newStreamConn(serverSide, serverSide, serverSide.Close)
	return client, server
}

// PipeDialer dials fresh in-memory connections, handing the server end of
// each to the accept callback. Useful for exercising the pooled client
// against an in-process server.
type PipeDialer struct {
	accept func(domain.Conn)
}

func NewPipeDialer(accept func(domain.Conn)) *PipeDialer {
	return &PipeDialer{accept: accept}
}

func (d *PipeDialer) Dial(ctx context.Context) (domain.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := Pipe()
	if d.accept != nil {
		d.accept(server)
	}
	return client, nil
}
