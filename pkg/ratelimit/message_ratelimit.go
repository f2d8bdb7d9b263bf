// Package ratelimit throttles outbound chat messages on the client.
//
// The server drops frames from flooding clients without telling them, so the
// composer refuses to send before that point and tells the user to wait.
//
// Design:
//   - Up to maxMessages per window per conversation are allowed.
//   - The message that exceeds the limit starts a cooldown; every message is
//     rejected until the cooldown ends.
//   - When the cooldown ends the window restarts.
package ratelimit

import (
	"sync"
	"time"
)

// messageBucket is the counter of one conversation.
//
// Two modes:
//  1. normal: count grows inside the window that began at windowStart.
//  2. cooldown: cooldownUntil is in the future and every message is rejected.
type messageBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time // zero value = no cooldown
}

// MessageRateLimiter is a per-key sliding window with a cooldown penalty.
//
//	limiter := ratelimit.NewMessageRateLimiter(5, 5*time.Second, 10*time.Second)
//	defer limiter.Close()
//	if !limiter.Allow(peerID) { ... }
type MessageRateLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*messageBucket
	maxMessages int
	window      time.Duration
	cooldown    time.Duration
	now         func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMessageRateLimiter creates a limiter and starts its cleanup goroutine.
// A non-positive maxMessages disables limiting: Allow always returns true.
func NewMessageRateLimiter(maxMessages int, window, cooldown time.Duration) *MessageRateLimiter {
	rl := &MessageRateLimiter{
		buckets:     make(map[string]*messageBucket),
		maxMessages: maxMessages,
		window:      window,
		cooldown:    cooldown,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether one more message to key may be sent now, and counts
// it when it may.
//
// Flow:
//  1. in cooldown → reject.
//  2. cooldown just ended or window elapsed → start a new window.
//  3. inside the window → count; exceeding the max starts the cooldown.
func (rl *MessageRateLimiter) Allow(key string) bool {
	if rl.maxMessages <= 0 {
		return true
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		rl.buckets[key] = &messageBucket{count: 1, windowStart: now}
		return true
	}

	if !b.cooldownUntil.IsZero() && now.Before(b.cooldownUntil) {
		return false
	}

	if !b.cooldownUntil.IsZero() || now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	b.count++
	if b.count > rl.maxMessages {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}

	return true
}

// Cooldown returns how long key still has to wait, or 0.
func (rl *MessageRateLimiter) Cooldown(key string) time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[key]
	if !exists || b.cooldownUntil.IsZero() {
		return 0
	}

	remaining := b.cooldownUntil.Sub(rl.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *MessageRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *MessageRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
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

// cleanup drops buckets whose window and cooldown have both ended.
func (rl *MessageRateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > rl.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)

		if windowExpired && cooldownExpired {
			delete(rl.buckets, key)
		}
	}
}
