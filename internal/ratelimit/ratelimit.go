// Package ratelimit provides keyed fixed-window rate limiting shared by the
// connection gateway, the chat dispatcher, and the auth endpoints.
// Each concern owns its own independently configured Limiter instance;
// instances never share state.
package ratelimit

import (
	"sync"
	"time"

	"github.com/openboard/gateway/internal/constants"
)

// Result is the outcome of a single limit check
type Result struct {
	Allowed   bool
	Remaining int       // Tokens left in the current window after this check
	ResetTime time.Time // When the current window rolls over
}

// bucket tracks one key's usage within the current window
type bucket struct {
	count       int
	windowStart time.Time
	lastTouched time.Time
}

// Limiter is a keyed fixed-window rate limiter.
// Buckets are created lazily on first check, reset when the window boundary
// is crossed, and swept once untouched past the retention horizon.
type Limiter struct {
	buckets   map[string]*bucket
	limit     int
	window    time.Duration
	retention time.Duration // Must be >= window; bounds bucket memory
	maxKeys   int           // Hard cap on distinct tracked keys
	mu        sync.Mutex

	// Cleanup goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	cleanupWg       sync.WaitGroup
}

// New creates a new limiter allowing limit checks per window per key.
// Buckets untouched for longer than retention are removed by the sweep.
func New(limit int, window, retention time.Duration) *Limiter {
	if retention < window {
		retention = window
	}
	return &Limiter{
		buckets:         make(map[string]*bucket),
		limit:           limit,
		window:          window,
		retention:       retention,
		maxKeys:         constants.MaxBucketsTracked,
		cleanupInterval: constants.DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
}

// CheckLimit records one request for key and reports whether it is allowed.
// Exactly limit calls succeed within one window; the next call fails until
// the window rolls over. Distinct keys are fully independent.
func (l *Limiter) CheckLimit(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		// Refuse new keys past the cap rather than growing without bound.
		// Existing keys keep working so established clients are unaffected.
		if len(l.buckets) >= l.maxKeys {
			return Result{Allowed: false, Remaining: 0, ResetTime: now.Add(l.window)}
		}
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	// Roll the window if the boundary has passed
	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.count = 0
	}
	b.lastTouched = now

	reset := b.windowStart.Add(l.window)
	if b.count >= l.limit {
		return Result{Allowed: false, Remaining: 0, ResetTime: reset}
	}

	b.count++
	return Result{Allowed: true, Remaining: l.limit - b.count, ResetTime: reset}
}

// Allow is a convenience wrapper around CheckLimit for call sites that only
// need the boolean outcome.
func (l *Limiter) Allow(key string) bool {
	return l.CheckLimit(key).Allowed
}

// RetryAfter returns the time in milliseconds until the key's window resets.
// Returns 0 when the key is not currently limited.
func (l *Limiter) RetryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.count < l.limit {
		return 0
	}

	remaining := time.Until(b.windowStart.Add(l.window))
	if remaining < 0 {
		return 0
	}
	return int(remaining.Milliseconds())
}

// Reset clears the usage history for a key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// KeyCount returns the number of currently tracked keys
func (l *Limiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup removes buckets untouched for longer than the retention horizon.
// The retention horizon is deliberately longer than the window so RetryAfter
// stays accurate for keys that are still limited.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.retention)
	for key, b := range l.buckets {
		if b.lastTouched.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup starts a background goroutine that periodically sweeps buckets
func (l *Limiter) StartCleanup() {
	l.cleanupWg.Add(1)
	go func() {
		defer l.cleanupWg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to finish.
// Safe to call more than once.
func (l *Limiter) StopCleanup() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
	l.cleanupWg.Wait()
}
