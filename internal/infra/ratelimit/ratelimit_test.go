package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tipr/internal/domain"
)

func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func TestBurstDeniesBeyondCapacity(t *testing.T) {
	at := time.Unix(1000, 0)
	limiter := New(Options{
		Config: domain.RateLimitsConfig{
			Default: domain.RateLimitConfig{Capacity: 5, RefillPerSecond: 1},
		},
		Now: fixedClock(&at),
	})

	// N > C admission checks inside a frozen window must deny at least N-C.
	const n = 12
	denied := 0
	for i := 0; i < n; i++ {
		if !limiter.Allow("echo") {
			denied++
		}
	}
	require.Equal(t, n-5, denied)
}

func TestRefillRestoresTokens(t *testing.T) {
	at := time.Unix(1000, 0)
	limiter := New(Options{
		Config: domain.RateLimitsConfig{
			Default: domain.RateLimitConfig{Capacity: 2, RefillPerSecond: 2},
		},
		Now: fixedClock(&at),
	})

	require.True(t, limiter.Allow("echo"))
	require.True(t, limiter.Allow("echo"))
	require.False(t, limiter.Allow("echo"))

	// Half a second refills one token at 2/s.
	at = at.Add(500 * time.Millisecond)
	require.True(t, limiter.Allow("echo"))
	require.False(t, limiter.Allow("echo"))

	// Refill never exceeds capacity.
	at = at.Add(time.Hour)
	require.True(t, limiter.Allow("echo"))
	require.True(t, limiter.Allow("echo"))
	require.False(t, limiter.Allow("echo"))
}

func TestPerToolOverrideAndIsolation(t *testing.T) {
	at := time.Unix(1000, 0)
	limiter := New(Options{
		Config: domain.RateLimitsConfig{
			Default: domain.RateLimitConfig{Capacity: 4, RefillPerSecond: 1},
			PerTool: map[string]domain.RateLimitConfig{
				"heavy": {Capacity: 1, RefillPerSecond: 0.5},
			},
		},
		Now: fixedClock(&at),
	})

	require.True(t, limiter.Allow("heavy"))
	require.False(t, limiter.Allow("heavy"))

	// An exhausted bucket for one tool does not affect another.
	for i := 0; i < 4; i++ {
		require.True(t, limiter.Allow("light"))
	}
	require.False(t, limiter.Allow("light"))
}

func TestConcurrentChecksNeverOverAdmit(t *testing.T) {
	at := time.Unix(1000, 0)
	limiter := New(Options{
		Config: domain.RateLimitsConfig{
			Default: domain.RateLimitConfig{Capacity: 10, RefillPerSecond: 1},
		},
		Now: fixedClock(&at),
	})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("echo") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(10), admitted.Load())
}
