package domain

const (
	DefaultServerListenAddress        = "127.0.0.1:8700"
	DefaultClientEndpoint             = "http://127.0.0.1:8700"
	DefaultObservabilityListenAddress = "127.0.0.1:9090"

	DefaultCallTimeoutSeconds  = 30
	DefaultDrainTimeoutSeconds = 10

	DefaultPoolMaxSize = 4
	MaxPoolSize        = 64

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelayMS = 100
	DefaultRetryMultiplier  = 2.0
	DefaultRetryMaxDelayMS  = 5000
	DefaultRetryJitterMS    = 50

	DefaultHealthIntervalSeconds = 15
	DefaultHealthTimeoutSeconds  = 2

	DefaultRateLimitCapacity        = 16.0
	DefaultRateLimitRefillPerSecond = 8.0
)
