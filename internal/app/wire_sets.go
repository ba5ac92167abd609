//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var CoreInfraSet = wire.NewSet(
	NewLogging,
	NewLogger,
	NewMetricsRegistry,
	NewMetrics,
	NewHealthTracker,
	NewConfigLoader,
	LoadRuntimeConfig,
)

var RuntimeSet = wire.NewSet(
	NewToolRegistry,
	NewRateLimiter,
	NewAuthenticator,
	NewProtocolServer,
	NewStateStore,
	NewDiscoveryProviders,
	NewDiscoveryEngine,
	NewWatcher,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	RuntimeSet,
	wire.Struct(new(ApplicationOptions), "*"),
	NewApplication,
)
