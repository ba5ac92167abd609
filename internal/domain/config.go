package domain

import "time"

// RetryPolicy is stateless configuration applied per call.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelayMS   int
	Multiplier    float64
	MaxDelayMS    int
	JitterMS      int
	// RetryableCodes overrides the default classification when non-nil.
	RetryableCodes map[ErrorCode]bool
}

func (p RetryPolicy) BaseDelay() time.Duration {
	return time.Duration(p.BaseDelayMS) * time.Millisecond
}

func (p RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMS) * time.Millisecond
}

func (p RetryPolicy) Jitter() time.Duration {
	return time.Duration(p.JitterMS) * time.Millisecond
}

// Retryable classifies an error under this policy.
func (p RetryPolicy) Retryable(err error) bool {
	code, ok := CodeFrom(err)
	if !ok {
		return false
	}
	if p.RetryableCodes != nil {
		return p.RetryableCodes[code]
	}
	return RetryableCode(code)
}

// RateLimitConfig describes one token bucket.
type RateLimitConfig struct {
	Capacity        float64 `mapstructure:"capacity"`
	RefillPerSecond float64 `mapstructure:"refillPerSecond"`
}

// ServerConfig configures the protocol server.
type ServerConfig struct {
	ListenAddress       string
	Stdio               bool
	CallTimeoutSeconds  int
	DrainTimeoutSeconds int
}

func (c ServerConfig) CallTimeout() time.Duration {
	return secondsOrDefault(c.CallTimeoutSeconds, DefaultCallTimeoutSeconds)
}

func (c ServerConfig) DrainTimeout() time.Duration {
	return secondsOrDefault(c.DrainTimeoutSeconds, DefaultDrainTimeoutSeconds)
}

// ClientConfig configures the pooled protocol client.
type ClientConfig struct {
	Endpoint           string
	PoolMaxSize        int
	CallTimeoutSeconds int
}

func (c ClientConfig) CallTimeout() time.Duration {
	return secondsOrDefault(c.CallTimeoutSeconds, DefaultCallTimeoutSeconds)
}

// HealthConfig configures the client-side connection health checker.
type HealthConfig struct {
	IntervalSeconds int
	TimeoutSeconds  int
}

func (c HealthConfig) Interval() time.Duration {
	return secondsOrDefault(c.IntervalSeconds, DefaultHealthIntervalSeconds)
}

func (c HealthConfig) Timeout() time.Duration {
	return secondsOrDefault(c.TimeoutSeconds, DefaultHealthTimeoutSeconds)
}

// RateLimitsConfig is the admission-control surface: one default bucket
// shared per tool, with per-tool overrides.
type RateLimitsConfig struct {
	Default RateLimitConfig
	PerTool map[string]RateLimitConfig
}

// DiscoveryConfig configures the discovery engine.
type DiscoveryConfig struct {
	StateFile string
	Watch     bool
	Sources   []SourceLocation
}

// ObservabilityConfig configures the metrics/health listener.
type ObservabilityConfig struct {
	ListenAddress string
	EnableMetrics bool
	EnableHealthz bool
}

// RuntimeConfig is the full recognized configuration surface.
type RuntimeConfig struct {
	Server        ServerConfig
	Client        ClientConfig
	Retry         RetryPolicy
	Health        HealthConfig
	RateLimit     RateLimitsConfig
	Discovery     DiscoveryConfig
	Observability ObservabilityConfig
}

func secondsOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
