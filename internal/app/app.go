package app

import (
	"context"

	"go.uber.org/zap"

	"tipr/internal/infra/config"
)

// App is the entry point the daemon binary drives.
type App struct {
	logger *zap.Logger
}

// ServeConfig carries the serve command's settings.
type ServeConfig struct {
	ConfigPath string
}

// ValidateConfig carries the validate command's settings.
type ValidateConfig struct {
	ConfigPath string
}

func New(logger *zap.Logger) *App {
	return &App{logger: logger}
}

// Serve builds the wired application and runs it until ctx is cancelled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	application, err := InitializeRuntime(ctx, cfg, LoggingConfig{Logger: a.logger})
	if err != nil {
		return err
	}
	return application.Run()
}

// Validate loads and validates the configuration without starting services.
func (a *App) Validate(ctx context.Context, cfg ValidateConfig) error {
	logging := NewLogging(LoggingConfig{Logger: a.logger})
	loader := config.NewLoader(logging.Logger)

	runtime, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}

	logging.Logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.Int("sources", len(runtime.Discovery.Sources)))
	return nil
}
