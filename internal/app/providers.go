package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tipr/internal/domain"
	"tipr/internal/infra/config"
	"tipr/internal/infra/discovery"
	"tipr/internal/infra/ratelimit"
	"tipr/internal/infra/registry"
	"tipr/internal/infra/server"
	"tipr/internal/infra/telemetry"
)

func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())
	return reg
}

func NewMetrics(reg *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(reg)
}

func NewHealthTracker() *telemetry.HealthTracker {
	return telemetry.NewHealthTracker()
}

func NewConfigLoader(logger *zap.Logger) *config.Loader {
	return config.NewLoader(logger)
}

func LoadRuntimeConfig(ctx context.Context, serveCfg ServeConfig, loader *config.Loader) (domain.RuntimeConfig, error) {
	return loader.Load(ctx, serveCfg.ConfigPath)
}

func NewToolRegistry(logger *zap.Logger) domain.Registry {
	return registry.New(registry.Options{Logger: logger})
}

func NewRateLimiter(cfg domain.RuntimeConfig) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Options{Config: cfg.RateLimit})
}

func NewAuthenticator() domain.Authenticator {
	return domain.AllowAll()
}

func NewProtocolServer(
	cfg domain.RuntimeConfig,
	reg domain.Registry,
	limiter *ratelimit.Limiter,
	auth domain.Authenticator,
	metrics domain.Metrics,
	logger *zap.Logger,
) *server.Server {
	return server.NewServer(server.Options{
		Registry:      reg,
		Limiter:       limiter,
		Authenticator: auth,
		Metrics:       metrics,
		Logger:        logger,
		Config:        cfg.Server,
	})
}

func NewStateStore(cfg domain.RuntimeConfig) (discovery.StateStore, error) {
	if cfg.Discovery.StateFile == "" {
		return discovery.NewMemoryState(), nil
	}
	return discovery.OpenState(cfg.Discovery.StateFile)
}

func NewDiscoveryProviders(cfg domain.RuntimeConfig, logger *zap.Logger) ([]discovery.Provider, error) {
	return discovery.BuildProviders(cfg.Discovery, discovery.BuiltinPlugins(), logger)
}

func NewDiscoveryEngine(
	reg domain.Registry,
	providers []discovery.Provider,
	state discovery.StateStore,
	metrics domain.Metrics,
	logger *zap.Logger,
) *discovery.Engine {
	return discovery.NewEngine(discovery.Options{
		Registry:  reg,
		Providers: providers,
		State:     state,
		Metrics:   metrics,
		Logger:    logger,
	})
}

func NewWatcher(engine *discovery.Engine, logger *zap.Logger) *discovery.Watcher {
	return discovery.NewWatcher(engine, logger)
}
