package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginRateLimiter_Allow(t *testing.T) {
	t.Run("should allow attempts under limit", func(t *testing.T) {
		limiter := NewLoginRateLimiter(3, time.Minute)

		for i := 0; i < 3; i++ {
			allowed, retry := limiter.Allow("10.0.0.1")
			assert.True(t, allowed)
			assert.Zero(t, retry)
		}
		assert.Equal(t, 3, limiter.Attempts("10.0.0.1"))
	})

	t.Run("should reject when limit exceeded", func(t *testing.T) {
		limiter := NewLoginRateLimiter(2, time.Minute)

		limiter.Allow("10.0.0.1")
		limiter.Allow("10.0.0.1")

		allowed, retry := limiter.Allow("10.0.0.1")
		assert.False(t, allowed)
		assert.Greater(t, retry, time.Duration(0))
		assert.LessOrEqual(t, retry, time.Minute)
	})

	t.Run("should track keys independently", func(t *testing.T) {
		limiter := NewLoginRateLimiter(1, time.Minute)

		allowed, _ := limiter.Allow("10.0.0.1")
		assert.True(t, allowed)
		allowed, _ = limiter.Allow("10.0.0.2")
		assert.True(t, allowed)
	})

	t.Run("should allow attempts after window expires", func(t *testing.T) {
		limiter := NewLoginRateLimiter(1, time.Minute)
		now := time.Now()
		limiter.now = func() time.Time { return now }

		limiter.Allow("10.0.0.1")
		allowed, _ := limiter.Allow("10.0.0.1")
		assert.False(t, allowed)

		now = now.Add(61 * time.Second)
		allowed, _ = limiter.Allow("10.0.0.1")
		assert.True(t, allowed)
	})

	t.Run("should never limit when disabled", func(t *testing.T) {
		limiter := NewLoginRateLimiter(0, time.Minute)

		for i := 0; i < 100; i++ {
			allowed, _ := limiter.Allow("10.0.0.1")
			assert.True(t, allowed)
		}
	})
}

func TestLoginRateLimiter_ResetAndSweep(t *testing.T) {
	limiter := NewLoginRateLimiter(1, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("10.0.0.1")
	limiter.Reset("10.0.0.1")
	allowed, _ := limiter.Allow("10.0.0.1")
	assert.True(t, allowed)

	limiter.Allow("10.0.0.2")
	now = now.Add(2 * time.Minute)
	limiter.Sweep()

	limiter.mu.Lock()
	assert.Empty(t, limiter.attempts)
	limiter.mu.Unlock()
}
