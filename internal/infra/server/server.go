package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/codec"
	"tipr/internal/infra/ratelimit"
	"tipr/internal/infra/telemetry"
)

// ConnState is the lifecycle position of one accepted connection.
type ConnState string

const (
	StateAccepted       ConnState = "accepted"
	StateAuthenticating ConnState = "authenticating"
	StateActive         ConnState = "active"
	StateDraining       ConnState = "draining"
	StateClosed         ConnState = "closed"
)

// Options configures a Server.
type Options struct {
	Registry      domain.Registry
	Limiter       *ratelimit.Limiter
	Authenticator domain.Authenticator
	Metrics       domain.Metrics
	Logger        *zap.Logger
	Config        domain.ServerConfig
}

// Server accepts protocol connections and dispatches requests against the
// registry. A draining server finishes in-flight work but admits nothing
// new.
type Server struct {
	dispatcher   *dispatcher
	auth         domain.Authenticator
	logger       *zap.Logger
	drainTimeout time.Duration

	mu       sync.Mutex
	conns    map[*serverConn]struct{}
	draining bool
	inflight sync.WaitGroup
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	auth := opts.Authenticator
	if auth == nil {
		auth = domain.AllowAll()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Options{})
	}
	return &Server{
		dispatcher: &dispatcher{
			registry:    opts.Registry,
			limiter:     limiter,
			metrics:     metrics,
			logger:      logger,
			callTimeout: opts.Config.CallTimeout(),
		},
		auth:         auth,
		logger:       logger,
		drainTimeout: opts.Config.DrainTimeout(),
		conns:        make(map[*serverConn]struct{}),
	}
}

// serverConn tracks one stream connection through the state machine.
type serverConn struct {
	id      string
	conn    domain.Conn
	tracker *inflightTracker

	mu    sync.Mutex
	state ConnState
}

func (c *serverConn) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *serverConn) currentState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServeConn runs the receive loop for one stream connection until the peer
// disconnects, ctx is cancelled, or the server finishes draining. It blocks
// for the connection's lifetime.
func (s *Server) ServeConn(ctx context.Context, conn domain.Conn, meta domain.ConnMeta) error {
	sc := &serverConn{
		id:      uuid.NewString(),
		conn:    conn,
		tracker: newInflightTracker(),
		state:   StateAccepted,
	}
	logger := s.logger.With(telemetry.ConnIDField(sc.id))

	sc.setState(StateAuthenticating)
	if err := s.auth.Authenticate(ctx, meta); err != nil {
		logger.Warn("connection rejected",
			telemetry.EventField(telemetry.EventConnRejected),
			zap.String("remote", meta.RemoteAddr),
			zap.Error(err))
		sc.setState(StateClosed)
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		sc.setState(StateClosed)
		_ = conn.Close()
		return domain.E(domain.CodeCancelled, "server.accept", "server is draining", nil)
	}
	s.conns[sc] = struct{}{}
	s.mu.Unlock()

	sc.setState(StateActive)
	logger.Info("connection active",
		telemetry.EventField(telemetry.EventConnAccepted),
		zap.String("transport", meta.Transport),
		zap.String("remote", meta.RemoteAddr))

	err := s.receiveLoop(ctx, sc, logger)

	s.mu.Lock()
	delete(s.conns, sc)
	s.mu.Unlock()
	sc.setState(StateClosed)
	_ = conn.Close()
	logger.Info("connection closed",
		telemetry.EventField(telemetry.EventConnClosed),
		zap.Error(err))
	return err
}

func (s *Server) receiveLoop(ctx context.Context, sc *serverConn, logger *zap.Logger) error {
	for {
		frame, err := sc.conn.Recv(ctx)
		if err != nil {
			if code, ok := domain.CodeFrom(err); ok && code == domain.CodeConnectionLost {
				return nil
			}
			return err
		}

		env, err := codec.Decode(frame)
		if err != nil {
			s.rejectFrame(ctx, sc, frame, err, logger)
			continue
		}

		switch env.Kind {
		case domain.KindRequest:
			if sc.currentState() == StateDraining {
				s.reply(ctx, sc, domain.NewErrorEnvelope(env.ID, domain.CodeCancelled, "connection is draining"), logger)
				continue
			}
			s.inflight.Add(1)
			go func(env domain.Envelope) {
				defer s.inflight.Done()
				s.reply(ctx, sc, s.dispatcher.dispatch(ctx, env, sc.tracker), logger)
			}(env)
		case domain.KindNotification:
			if env.Tool == domain.ToolCancel {
				s.dispatcher.handleCancel(env.Payload, sc.tracker)
			} else {
				logger.Debug("ignoring notification", telemetry.ToolField(env.Tool))
			}
		default:
			// Responses and errors flow server-to-client only.
			logger.Debug("dropping unexpected inbound kind", zap.String("kind", string(env.Kind)))
		}
	}
}

// rejectFrame answers a malformed frame with a protocol error when a
// correlation ID can be salvaged from it, and drops it otherwise. Either way
// only this frame is affected.
func (s *Server) rejectFrame(ctx context.Context, sc *serverConn, frame []byte, cause error, logger *zap.Logger) {
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(frame, &probe) == nil && probe.ID != "" {
		s.reply(ctx, sc, domain.NewErrorEnvelope(probe.ID, domain.CodeProtocolError, cause.Error()), logger)
		return
	}
	logger.Debug("dropping malformed frame", zap.Error(cause))
}

func (s *Server) reply(ctx context.Context, sc *serverConn, env domain.Envelope, logger *zap.Logger) {
	frame, err := codec.Encode(env)
	if err != nil {
		logger.Error("encode reply", telemetry.CallIDField(env.ID), zap.Error(err))
		return
	}
	if err := sc.conn.Send(ctx, frame); err != nil {
		logger.Debug("reply send failed",
			telemetry.EventField(telemetry.EventConnLost),
			telemetry.CallIDField(env.ID),
			zap.Error(err))
	}
}

// Shutdown drains the server: connections move to Draining, in-flight
// requests get up to the drain timeout to finish, then every connection is
// closed. New requests are rejected for the whole window.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		sc.setState(StateDraining)
		s.logger.Info("connection draining",
			telemetry.EventField(telemetry.EventConnDraining),
			telemetry.ConnIDField(sc.id))
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(s.drainTimeout):
		err = domain.E(domain.CodeTimeout, "server.shutdown", "drain timeout elapsed with requests in flight", nil)
	case <-ctx.Done():
		err = ctx.Err()
	}

	for _, sc := range conns {
		_ = sc.conn.Close()
	}
	return err
}
