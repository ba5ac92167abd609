//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"
)

// InitializeRuntime assembles the full daemon runtime from a serve command's
// inputs: config loading, telemetry, the tool registry, discovery, and the
// protocol server.
func InitializeRuntime(ctx context.Context, serve ServeConfig, logging LoggingConfig) (*Application, error) {
	wire.Build(AppSet)
	return nil, nil
}
