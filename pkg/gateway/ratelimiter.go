package gateway

import (
	"sync"
	"time"
)

// LoginRateLimiter is a sliding-window limiter keyed by remote address.
type LoginRateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string][]time.Time
	now      func() time.Time
}

// NewLoginRateLimiter allows limit attempts per key per window. A limit of
// zero or less disables limiting.
func NewLoginRateLimiter(limit int, window time.Duration) *LoginRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &LoginRateLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit. When it is not, retryAfter is how long until the oldest attempt
// leaves the window.
func (l *LoginRateLimiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)

	if len(recent) >= l.limit {
		return false, recent[0].Add(l.window).Sub(now)
	}

	l.attempts[key] = append(recent, now)
	return true, 0
}

// Reset forgets key, e.g. after a successful login.
func (l *LoginRateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// Attempts returns the number of attempts for key within the window.
func (l *LoginRateLimiter) Attempts(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key, l.now()))
}

// Sweep drops keys with no attempts inside the window.
func (l *LoginRateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.attempts {
		l.prune(key, now)
	}
}

func (l *LoginRateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	times := l.attempts[key]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	recent := times[i:]
	if len(recent) == 0 {
		delete(l.attempts, key)
		return nil
	}
	l.attempts[key] = recent
	return recent
}
