package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Allow(t *testing.T) {
	l := New(3, 1*time.Second, 1*time.Second)

	// First 3 checks should be allowed
	assert.True(t, l.Allow("user1"))
	assert.True(t, l.Allow("user1"))
	assert.True(t, l.Allow("user1"))

	// 4th check should be denied
	assert.False(t, l.Allow("user1"))

	// Different key should be unaffected
	assert.True(t, l.Allow("user2"))
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l := New(2, 100*time.Millisecond, 100*time.Millisecond)

	// Use up the limit
	assert.True(t, l.Allow("user1"))
	assert.True(t, l.Allow("user1"))
	assert.False(t, l.Allow("user1"))

	// Wait for window to expire
	time.Sleep(150 * time.Millisecond)

	// Should be allowed again
	assert.True(t, l.Allow("user1"))
}

func TestLimiter_CheckLimitResult(t *testing.T) {
	l := New(2, 1*time.Second, 1*time.Second)

	result := l.CheckLimit("user1")
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)

	result = l.CheckLimit("user1")
	assert.True(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)

	result = l.CheckLimit("user1")
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.True(t, result.ResetTime.After(time.Now()))
}

func TestLimiter_RetryAfter(t *testing.T) {
	l := New(1, 1*time.Second, 1*time.Second)

	// Not limited yet
	assert.Equal(t, 0, l.RetryAfter("user1"))

	l.Allow("user1")
	assert.Equal(t, 0, l.RetryAfter("user1"))

	// Now limited; retry-after must be positive and bounded by the window
	l.Allow("user1")
	retryAfter := l.RetryAfter("user1")
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 1000)
}

func TestLimiter_Reset(t *testing.T) {
	l := New(1, 1*time.Minute, 1*time.Minute)

	assert.True(t, l.Allow("user1"))
	assert.False(t, l.Allow("user1"))

	l.Reset("user1")
	assert.True(t, l.Allow("user1"))
}

func TestLimiter_KeyIndependence(t *testing.T) {
	l := New(1, 1*time.Minute, 1*time.Minute)

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("user%d", i)
		assert.True(t, l.Allow(key))
		assert.False(t, l.Allow(key))
	}
	assert.Equal(t, 10, l.KeyCount())
}

func TestLimiter_Cleanup(t *testing.T) {
	l := New(5, 50*time.Millisecond, 50*time.Millisecond)

	l.Allow("user1")
	l.Allow("user2")
	assert.Equal(t, 2, l.KeyCount())

	// Buckets untouched past the retention horizon are swept
	time.Sleep(100 * time.Millisecond)
	l.Cleanup()
	assert.Equal(t, 0, l.KeyCount())
}

func TestLimiter_CleanupKeepsRecentBuckets(t *testing.T) {
	l := New(5, 1*time.Minute, 1*time.Minute)

	l.Allow("user1")
	l.Cleanup()
	assert.Equal(t, 1, l.KeyCount())
}

func TestLimiter_RetentionFloor(t *testing.T) {
	// Retention shorter than the window is raised to the window
	l := New(1, 1*time.Second, 1*time.Millisecond)
	assert.Equal(t, l.window, l.retention)
}

func TestLimiter_MaxKeysCap(t *testing.T) {
	l := New(1, 1*time.Minute, 1*time.Minute)
	l.maxKeys = 2

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	// New keys past the cap are refused outright
	assert.False(t, l.Allow("c"))

	// Existing keys keep their own budget
	assert.False(t, l.Allow("a"))
}

func TestLimiter_StopCleanupIdempotent(t *testing.T) {
	l := New(1, 1*time.Second, 1*time.Second)
	l.StartCleanup()

	// Calling StopCleanup more than once must not panic
	l.StopCleanup()
	l.StopCleanup()
}
