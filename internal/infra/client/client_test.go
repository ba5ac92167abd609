package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tipr/internal/domain"
	"tipr/internal/infra/codec"
	"tipr/internal/infra/transport"
)

// scriptedServer answers every request on every accepted connection with the
// supplied function. It records request envelopes in arrival order.
type scriptedServer struct {
	mu       sync.Mutex
	requests []domain.Envelope
	conns    []domain.Conn
	answer   func(env domain.Envelope) *domain.Envelope
}

func (s *scriptedServer) accept(conn domain.Conn) {
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	go func() {
		for {
			frame, err := conn.Recv(context.Background())
			if err != nil {
				return
			}
			env, err := codec.Decode(frame)
			if err != nil || env.Kind != domain.KindRequest {
				continue
			}
			s.mu.Lock()
			s.requests = append(s.requests, env)
			answer := s.answer
			s.mu.Unlock()
			reply := answer(env)
			if reply == nil {
				continue
			}
			out, err := codec.Encode(*reply)
			if err != nil {
				return
			}
			if err := conn.Send(context.Background(), out); err != nil {
				return
			}
		}
	}()
}

func (s *scriptedServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedServer) requestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.requests))
	for _, env := range s.requests {
		ids = append(ids, env.ID)
	}
	return ids
}

func (s *scriptedServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func echoAnswer(env domain.Envelope) *domain.Envelope {
	reply := domain.NewResponse(env.ID, env.Payload)
	return &reply
}

func newTestClient(t *testing.T, server *scriptedServer, retry domain.RetryPolicy) *Client {
	t.Helper()
	c := New(Options{
		Dialer: transport.NewPipeDialer(server.accept),
		Config: domain.ClientConfig{PoolMaxSize: 2, CallTimeoutSeconds: 5},
		Retry:  retry,
		Health: domain.HealthConfig{IntervalSeconds: 3600, TimeoutSeconds: 1},
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fastRetry(maxAttempts int) domain.RetryPolicy {
	return domain.RetryPolicy{MaxAttempts: maxAttempts, BaseDelayMS: 1, Multiplier: 2, MaxDelayMS: 10, JitterMS: 1}
}

func TestCallRoundTrip(t *testing.T) {
	server := &scriptedServer{answer: echoAnswer}
	c := newTestClient(t, server, fastRetry(3))

	out, err := c.Call(context.Background(), "text.echo", json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"msg":"hi"}`, string(out))
	require.Equal(t, 1, server.requestCount())
}

func TestCallDoesNotRetryFinalErrors(t *testing.T) {
	server := &scriptedServer{answer: func(env domain.Envelope) *domain.Envelope {
		reply := domain.NewErrorEnvelope(env.ID, domain.CodeToolNotFound, "no such tool")
		return &reply
	}}
	c := newTestClient(t, server, fastRetry(5))

	_, err := c.Call(context.Background(), "ghost.tool", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeToolNotFound, code)
	require.Equal(t, 1, server.requestCount(), "final errors must not be retried")
}

func TestCallRetriesTransientErrorsExactlyMaxAttempts(t *testing.T) {
	server := &scriptedServer{answer: func(env domain.Envelope) *domain.Envelope {
		reply := domain.NewErrorEnvelope(env.ID, domain.CodeRateLimited, "slow down")
		return &reply
	}}
	c := newTestClient(t, server, fastRetry(3))

	_, err := c.Call(context.Background(), "busy.tool", nil)
	require.Error(t, err)
	code, _ := domain.CodeFrom(err)
	require.Equal(t, domain.CodeRateLimited, code)
	require.Equal(t, 3, server.requestCount(), "every attempt up to the cap, then stop")
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := &scriptedServer{answer: func(env domain.Envelope) *domain.Envelope {
		var reply domain.Envelope
		if calls.Add(1) == 1 {
			reply = domain.NewErrorEnvelope(env.ID, domain.CodeTransportError, "blip")
		} else {
			reply = domain.NewResponse(env.ID, json.RawMessage(`"ok"`))
		}
		return &reply
	}}
	c := newTestClient(t, server, fastRetry(3))

	out, err := c.Call(context.Background(), "flaky.tool", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"ok"`, string(out))
	require.Equal(t, 2, server.requestCount())
}

func TestEachAttemptUsesFreshCorrelationID(t *testing.T) {
	server := &scriptedServer{answer: func(env domain.Envelope) *domain.Envelope {
		reply := domain.NewErrorEnvelope(env.ID, domain.CodeTimeout, "too slow")
		return &reply
	}}
	c := newTestClient(t, server, fastRetry(3))

	_, err := c.Call(context.Background(), "slow.tool", nil)
	require.Error(t, err)

	ids := server.requestIDs()
	require.Len(t, ids, 3)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		require.NotEmpty(t, id)
		require.False(t, seen[id], "correlation IDs must be unique per attempt")
		seen[id] = true
	}
}

func TestConnectionLossFailsInflightThenRecovers(t *testing.T) {
	var drop atomic.Bool
	server := &scriptedServer{}
	server.answer = func(env domain.Envelope) *domain.Envelope {
		if drop.Load() {
			drop.Store(false)
			server.closeAll()
			return nil
		}
		return echoAnswer(env)
	}
	c := newTestClient(t, server, fastRetry(3))

	// Warm the pool, then kill the connection under the next call.
	_, err := c.Call(context.Background(), "text.echo", json.RawMessage(`1`))
	require.NoError(t, err)

	drop.Store(true)
	out, err := c.Call(context.Background(), "text.echo", json.RawMessage(`2`))
	require.NoError(t, err, "a fresh connection should serve the retry")
	require.JSONEq(t, `2`, string(out))
}

func TestPoolCapsConcurrentConnections(t *testing.T) {
	var dials atomic.Int32
	server := &scriptedServer{answer: func(env domain.Envelope) *domain.Envelope {
		time.Sleep(30 * time.Millisecond)
		return echoAnswer(env)
	}}
	dialer := domain.DialerFunc(func(ctx context.Context) (domain.Conn, error) {
		dials.Add(1)
		return transport.NewPipeDialer(server.accept).Dial(ctx)
	})
	c := New(Options{
		Dialer: dialer,
		Config: domain.ClientConfig{PoolMaxSize: 2, CallTimeoutSeconds: 5},
		Retry:  fastRetry(1),
		Health: domain.HealthConfig{IntervalSeconds: 3600, TimeoutSeconds: 1},
	})
	defer c.Close()

	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Call(context.Background(), "text.echo", json.RawMessage(`"x"`))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, dials.Load(), int32(2))
}

func TestListTools(t *testing.T) {
	server := &scriptedServer{answer: func(env domain.Envelope) *domain.Envelope {
		require.Equal(t, domain.ToolList, env.Tool)
		reply := domain.NewResponse(env.ID, json.RawMessage(`{"tools":[{"name":"a.tool","registered_at":"2026-01-01T00:00:00Z"}]}`))
		return &reply
	}}
	c := newTestClient(t, server, fastRetry(1))

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "a.tool", tools[0].Name)
}

func TestPingRetiresUnansweringConnection(t *testing.T) {
	server := &scriptedServer{answer: func(domain.Envelope) *domain.Envelope {
		return nil // never answer
	}}
	c := newTestClient(t, server, fastRetry(1))

	err := c.Ping(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, server.requestCount())

	// The silent connection was retired; a working one serves the next ping.
	server.mu.Lock()
	server.answer = echoAnswer
	server.mu.Unlock()
	require.NoError(t, c.Ping(context.Background()))
}

func TestCallCancelledContext(t *testing.T) {
	server := &scriptedServer{answer: func(domain.Envelope) *domain.Envelope {
		return nil // hold the reply forever
	}}
	c := newTestClient(t, server, fastRetry(1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := c.Call(ctx, "slow.tool", nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeCancelled, code)
}
