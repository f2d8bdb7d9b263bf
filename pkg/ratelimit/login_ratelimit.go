package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// bucket counts the attempts of one identifier inside the window that began
// at windowStart.
type bucket struct {
	count       int
	windowStart time.Time
}

// LoginRateLimiter throttles login attempts per identifier.
//
// Failed credentials would otherwise hammer POST /login as fast as the user
// presses enter, and the server answers a flood with a lockout. The limiter
// refuses locally first and says how long to wait.
//
//	limiter := NewLoginRateLimiter(5, 2*time.Minute)
//	if !limiter.Allow(identifier) { ... }
//	// after a successful login:
//	limiter.Reset(identifier)
type LoginRateLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*bucket
	maxAttempts int
	window      time.Duration
	now         func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewLoginRateLimiter creates a limiter and starts its cleanup goroutine.
// A non-positive maxAttempts disables limiting.
func NewLoginRateLimiter(maxAttempts int, window time.Duration) *LoginRateLimiter {
	rl := &LoginRateLimiter{
		buckets:     make(map[string]*bucket),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow counts one attempt for identifier and reports whether it may go to
// the server. Identifiers are compared case-insensitively, like the server
// does for nicknames and emails.
func (rl *LoginRateLimiter) Allow(identifier string) bool {
	if rl.maxAttempts <= 0 {
		return true
	}
	key := normalize(identifier)
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists || now.Sub(b.windowStart) > rl.window {
		rl.buckets[key] = &bucket{count: 1, windowStart: now}
		return true
	}

	b.count++
	return b.count <= rl.maxAttempts
}

// Reset clears the counter after a successful login.
func (rl *LoginRateLimiter) Reset(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, normalize(identifier))
}

// RetryAfter returns how long until identifier may try again.
func (rl *LoginRateLimiter) RetryAfter(identifier string) time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[normalize(identifier)]
	if !exists {
		return 0
	}

	remaining := rl.window - rl.now().Sub(b.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *LoginRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *LoginRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *LoginRateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if now.Sub(b.windowStart) > rl.window {
			delete(rl.buckets, key)
		}
	}
}

// FormatRetry renders a wait for the user, e.g. "2 minute(s)".
func FormatRetry(d time.Duration) string {
	seconds := int(d.Seconds())
	if d%time.Second != 0 {
		seconds++
	}
	if seconds >= 60 {
		return fmt.Sprintf("%d minute(s)", (seconds+59)/60)
	}
	return fmt.Sprintf("%d second(s)", seconds)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
