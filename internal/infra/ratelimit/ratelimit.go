// Package ratelimit implements per-tool token-bucket admission control.
// Buckets are global per tool name: every connection draws from the same
// bucket, with per-tool overrides from configuration.
package ratelimit

import (
	"sync"
	"time"

	"tipr/internal/domain"
)

type bucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

// Limiter admits or denies requests per tool. Admission checks for one tool
// are serialized; tokens never go below zero.
type Limiter struct {
	defaults domain.RateLimitConfig
	perTool  map[string]domain.RateLimitConfig
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type Options struct {
	Config domain.RateLimitsConfig
	// Now overrides the clock for tests.
	Now func() time.Time
}

func New(opts Options) *Limiter {
	defaults := opts.Config.Default
	if defaults.Capacity <= 0 {
		defaults.Capacity = domain.DefaultRateLimitCapacity
	}
	if defaults.RefillPerSecond <= 0 {
		defaults.RefillPerSecond = domain.DefaultRateLimitRefillPerSecond
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		defaults: defaults,
		perTool:  opts.Config.PerTool,
		now:      now,
		buckets:  make(map[string]*bucket),
	}
}

// Allow consumes one token from the tool's bucket when available.
func (l *Limiter) Allow(tool string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[tool]
	if b == nil {
		cfg := l.configFor(tool)
		b = &bucket{
			capacity:   cfg.Capacity,
			refillRate: cfg.RefillPerSecond,
			tokens:     cfg.Capacity,
			lastRefill: l.now(),
		}
		l.buckets[tool] = b
	}

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) configFor(tool string) domain.RateLimitConfig {
	if cfg, ok := l.perTool[tool]; ok {
		if cfg.Capacity <= 0 {
			cfg.Capacity = l.defaults.Capacity
		}
		if cfg.RefillPerSecond <= 0 {
			cfg.RefillPerSecond = l.defaults.RefillPerSecond
		}
		return cfg
	}
	return l.defaults
}
