// Package config loads and validates the runtime's YAML configuration.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tipr/internal/domain"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newRuntimeViper() *viper.Viper {
	// Tool names contain dots (text.echo, clock.now), so viper's default "."
	// delimiter would split rateLimit.perTool map keys. Use "::" instead.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigType("yaml")
	setRuntimeDefaults(v)
	return v
}

func setRuntimeDefaults(v *viper.Viper) {
	v.SetDefault("server::listenAddress", domain.DefaultServerListenAddress)
	v.SetDefault("server::callTimeoutSeconds", domain.DefaultCallTimeoutSeconds)
	v.SetDefault("server::drainTimeoutSeconds", domain.DefaultDrainTimeoutSeconds)
	v.SetDefault("client::endpoint", domain.DefaultClientEndpoint)
	v.SetDefault("client::poolMaxSize", domain.DefaultPoolMaxSize)
	v.SetDefault("client::callTimeoutSeconds", domain.DefaultCallTimeoutSeconds)
	v.SetDefault("retry::maxAttempts", domain.DefaultRetryMaxAttempts)
	v.SetDefault("retry::baseDelayMs", domain.DefaultRetryBaseDelayMS)
	v.SetDefault("retry::multiplier", domain.DefaultRetryMultiplier)
	v.SetDefault("retry::maxDelayMs", domain.DefaultRetryMaxDelayMS)
	v.SetDefault("retry::jitterMs", domain.DefaultRetryJitterMS)
	v.SetDefault("health::intervalSeconds", domain.DefaultHealthIntervalSeconds)
	v.SetDefault("health::timeoutSeconds", domain.DefaultHealthTimeoutSeconds)
	v.SetDefault("rateLimit::default::capacity", domain.DefaultRateLimitCapacity)
	v.SetDefault("rateLimit::default::refillPerSecond", domain.DefaultRateLimitRefillPerSecond)
	v.SetDefault("observability::listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("observability::enableMetrics", true)
	v.SetDefault("observability::enableHealthz", true)
	v.SetDefault("discovery::watch", false)
}

type rawRuntimeConfig struct {
	Server        rawServerConfig        `mapstructure:"server"`
	Client        rawClientConfig        `mapstructure:"client"`
	Retry         rawRetryConfig         `mapstructure:"retry"`
	Health        rawHealthConfig        `mapstructure:"health"`
	RateLimit     rawRateLimitsConfig    `mapstructure:"rateLimit"`
	Discovery     rawDiscoveryConfig     `mapstructure:"discovery"`
	Observability rawObservabilityConfig `mapstructure:"observability"`
}

type rawServerConfig struct {
	ListenAddress       string `mapstructure:"listenAddress"`
	Stdio               bool   `mapstructure:"stdio"`
	CallTimeoutSeconds  int    `mapstructure:"callTimeoutSeconds"`
	DrainTimeoutSeconds int    `mapstructure:"drainTimeoutSeconds"`
}

type rawClientConfig struct {
	Endpoint           string `mapstructure:"endpoint"`
	PoolMaxSize        int    `mapstructure:"poolMaxSize"`
	CallTimeoutSeconds int    `mapstructure:"callTimeoutSeconds"`
}

type rawRetryConfig struct {
	MaxAttempts int     `mapstructure:"maxAttempts"`
	BaseDelayMS int     `mapstructure:"baseDelayMs"`
	Multiplier  float64 `mapstructure:"multiplier"`
	MaxDelayMS  int     `mapstructure:"maxDelayMs"`
	JitterMS    int     `mapstructure:"jitterMs"`
}

type rawHealthConfig struct {
	IntervalSeconds int `mapstructure:"intervalSeconds"`
	TimeoutSeconds  int `mapstructure:"timeoutSeconds"`
}

type rawRateLimitsConfig struct {
	Default domain.RateLimitConfig            `mapstructure:"default"`
	PerTool map[string]domain.RateLimitConfig `mapstructure:"perTool"`
}

type rawDiscoveryConfig struct {
	StateFile string            `mapstructure:"stateFile"`
	Watch     bool              `mapstructure:"watch"`
	Sources   []rawSourceConfig `mapstructure:"sources"`
}

type rawSourceConfig struct {
	Kind string `mapstructure:"kind"`
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	EnableMetrics bool   `mapstructure:"enableMetrics"`
	EnableHealthz bool   `mapstructure:"enableHealthz"`
}

// Load reads, expands, decodes, and validates the config file at path.
func (l *Loader) Load(ctx context.Context, path string) (domain.RuntimeConfig, error) {
	if path == "" {
		return domain.RuntimeConfig{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RuntimeConfig{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return domain.RuntimeConfig{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newRuntimeViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.RuntimeConfig{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawRuntimeConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.RuntimeConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.RuntimeConfig{}, err
	}

	cfg, errs := normalize(raw)
	if len(errs) > 0 {
		return domain.RuntimeConfig{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func normalize(raw rawRuntimeConfig) (domain.RuntimeConfig, []string) {
	var errs []string

	if raw.Server.CallTimeoutSeconds < 0 {
		errs = append(errs, "server.callTimeoutSeconds must not be negative")
	}
	if raw.Client.PoolMaxSize < 0 {
		errs = append(errs, "client.poolMaxSize must not be negative")
	}
	if raw.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.maxAttempts must be at least 1")
	}
	if raw.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be at least 1")
	}
	if raw.Retry.MaxDelayMS < raw.Retry.BaseDelayMS {
		errs = append(errs, "retry.maxDelayMs must not be below retry.baseDelayMs")
	}
	if raw.RateLimit.Default.Capacity <= 0 {
		errs = append(errs, "rateLimit.default.capacity must be positive")
	}
	if raw.RateLimit.Default.RefillPerSecond <= 0 {
		errs = append(errs, "rateLimit.default.refillPerSecond must be positive")
	}
	for tool, rl := range raw.RateLimit.PerTool {
		if rl.Capacity < 0 || rl.RefillPerSecond < 0 {
			errs = append(errs, fmt.Sprintf("rateLimit.perTool[%s]: values must not be negative", tool))
		}
	}

	sources := make([]domain.SourceLocation, 0, len(raw.Discovery.Sources))
	for i, src := range raw.Discovery.Sources {
		location := domain.SourceLocation{
			Kind: domain.SourceLocationKind(src.Kind),
			Name: src.Name,
			Path: src.Path,
		}
		switch location.Kind {
		case domain.SourcePlugin:
			if location.Name == "" {
				errs = append(errs, fmt.Sprintf("discovery.sources[%d]: plugin source requires a name", i))
			}
		case domain.SourceManifest:
			if location.Path == "" {
				errs = append(errs, fmt.Sprintf("discovery.sources[%d]: manifest source requires a path", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("discovery.sources[%d]: unknown kind %q", i, src.Kind))
		}
		sources = append(sources, location)
	}

	return domain.RuntimeConfig{
		Server: domain.ServerConfig{
			ListenAddress:       raw.Server.ListenAddress,
			Stdio:               raw.Server.Stdio,
			CallTimeoutSeconds:  raw.Server.CallTimeoutSeconds,
			DrainTimeoutSeconds: raw.Server.DrainTimeoutSeconds,
		},
		Client: domain.ClientConfig{
			Endpoint:           raw.Client.Endpoint,
			PoolMaxSize:        raw.Client.PoolMaxSize,
			CallTimeoutSeconds: raw.Client.CallTimeoutSeconds,
		},
		Retry: domain.RetryPolicy{
			MaxAttempts: raw.Retry.MaxAttempts,
			BaseDelayMS: raw.Retry.BaseDelayMS,
			Multiplier:  raw.Retry.Multiplier,
			MaxDelayMS:  raw.Retry.MaxDelayMS,
			JitterMS:    raw.Retry.JitterMS,
		},
		Health: domain.HealthConfig{
			IntervalSeconds: raw.Health.IntervalSeconds,
			TimeoutSeconds:  raw.Health.TimeoutSeconds,
		},
		RateLimit: domain.RateLimitsConfig{
			Default: raw.RateLimit.Default,
			PerTool: raw.RateLimit.PerTool,
		},
		Discovery: domain.DiscoveryConfig{
			StateFile: raw.Discovery.StateFile,
			Watch:     raw.Discovery.Watch,
			Sources:   sources,
		},
		Observability: domain.ObservabilityConfig{
			ListenAddress: raw.Observability.ListenAddress,
			EnableMetrics: raw.Observability.EnableMetrics,
			EnableHealthz: raw.Observability.EnableHealthz,
		},
	}, errs
}
