package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketLimiter_Allow(t *testing.T) {
	t.Parallel()
	l := NewBucketLimiter(3, time.Minute, 6, 10)
	now := baseTime

	for range 3 {
		assert.True(t, l.Allow("user-1", now))
	}
	assert.False(t, l.Allow("user-1", now))
	assert.True(t, l.Allow("user-2", now), "keys are limited independently")

	// Still inside the window.
	assert.False(t, l.Allow("user-1", now.Add(50*time.Second)))

	// Once the bucket slides out of the window the budget returns.
	assert.True(t, l.Allow("user-1", now.Add(61*time.Second)))
}

func TestBucketLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()
	l := NewBucketLimiter(2, time.Minute, 6, 10)

	assert.True(t, l.Allow("k", baseTime))
	assert.True(t, l.Allow("k", baseTime.Add(30*time.Second)))
	assert.False(t, l.Allow("k", baseTime.Add(40*time.Second)))

	// The first event has left the window, the second has not.
	assert.True(t, l.Allow("k", baseTime.Add(65*time.Second)))
	assert.False(t, l.Allow("k", baseTime.Add(70*time.Second)))
}

func TestBucketLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	l := NewBucketLimiter(1, time.Minute, 6, 2)

	assert.True(t, l.Allow("a", baseTime))
	assert.True(t, l.Allow("b", baseTime))
	assert.False(t, l.Allow("a", baseTime), "touches a")
	assert.Equal(t, 2, l.Len())

	// c evicts b, the least recently used key.
	assert.True(t, l.Allow("c", baseTime))
	assert.Equal(t, 2, l.Len())
	assert.False(t, l.Allow("a", baseTime), "a kept its count")
	assert.True(t, l.Allow("b", baseTime), "b was forgotten")
}

func TestBucketLimiter_Defaults(t *testing.T) {
	t.Parallel()
	l := NewBucketLimiter(1, 0, 0, 0)

	assert.True(t, l.Allow("a", baseTime))
	assert.True(t, l.Allow("b", baseTime))
	assert.Equal(t, 1, l.Len())
}
