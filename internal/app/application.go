package app

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/discovery"
	"tipr/internal/infra/server"
	"tipr/internal/infra/telemetry"
	"tipr/internal/infra/transport"
)

// Application wires the runtime: discovery feeds the registry, the protocol
// server dispatches against it, and the observability listener exposes
// metrics and health.
type Application struct {
	ctx      context.Context
	cfg      domain.RuntimeConfig
	cfgPath  string
	logger   *zap.Logger
	registry *prometheus.Registry
	health   *telemetry.HealthTracker
	engine   *discovery.Engine
	watcher  *discovery.Watcher
	server   *server.Server
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	Context     context.Context
	ServeConfig ServeConfig
	Config      domain.RuntimeConfig
	Logger      *zap.Logger
	Registry    *prometheus.Registry
	Health      *telemetry.HealthTracker
	Engine      *discovery.Engine
	Watcher     *discovery.Watcher
	Server      *server.Server
}

// NewApplication constructs the runtime from wired dependencies.
func NewApplication(opts ApplicationOptions) *Application {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Application{
		ctx:      ctx,
		cfg:      opts.Config,
		cfgPath:  opts.ServeConfig.ConfigPath,
		logger:   opts.Logger,
		registry: opts.Registry,
		health:   opts.Health,
		engine:   opts.Engine,
		watcher:  opts.Watcher,
		server:   opts.Server,
	}
}

// Run starts every service and blocks until the context is cancelled or the
// protocol server fails.
func (a *Application) Run() error {
	a.logger.Info("configuration loaded",
		zap.String("config", a.cfgPath),
		zap.Int("sources", len(a.cfg.Discovery.Sources)))

	a.engine.ScanAll(a.ctx)
	defer func() { _ = a.engine.Close() }()

	stats := a.engine.Stats()
	if stats.Failures > 0 {
		a.health.SetComponent("discovery", "degraded")
	} else {
		a.health.SetComponent("discovery", "ok")
	}

	if a.cfg.Discovery.Watch {
		go func() {
			if err := a.watcher.Run(a.ctx); err != nil && a.ctx.Err() == nil {
				a.logger.Warn("manifest watcher stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		err := telemetry.StartHTTPServer(a.ctx, telemetry.HTTPServerOptions{
			Addr:          a.cfg.Observability.ListenAddress,
			EnableMetrics: a.cfg.Observability.EnableMetrics,
			EnableHealthz: a.cfg.Observability.EnableHealthz,
			Health:        a.health,
			Registry:      a.registry,
		}, a.logger)
		if err != nil {
			a.logger.Warn("observability server failed", zap.Error(err))
		}
	}()

	if a.cfg.Server.Stdio {
		go func() {
			conn := transport.NewStreamConn(os.Stdin, os.Stdout, nil)
			meta := domain.ConnMeta{Transport: "stdio", RemoteAddr: "stdio"}
			if err := a.server.ServeConn(a.ctx, conn, meta); err != nil && a.ctx.Err() == nil {
				a.logger.Warn("stdio connection ended", zap.Error(err))
			}
		}()
	}

	a.health.SetComponent("server", "ok")
	if a.cfg.Server.ListenAddress == "" {
		// Stdio-only daemon: no protocol listener, block until shutdown.
		a.logger.Info("protocol listener disabled")
		<-a.ctx.Done()
		return a.server.Shutdown(context.Background())
	}
	return a.server.ListenAndServe(a.ctx, a.cfg.Server.ListenAddress)
}
