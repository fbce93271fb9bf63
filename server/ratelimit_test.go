package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBoundary(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := NewRateLimiter(100, time.Minute)
	r.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		assert.True(t, r.Allow("10.0.0.1"), "request %d should pass", i+1)
	}
	assert.False(t, r.Allow("10.0.0.1"), "request 101 should be limited")

	// A different IP has its own window.
	assert.True(t, r.Allow("10.0.0.2"))

	// Once the window slides past the burst, the IP recovers.
	now = now.Add(61 * time.Second)
	assert.True(t, r.Allow("10.0.0.1"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := NewRateLimiter(2, time.Minute)
	r.now = func() time.Time { return now }

	assert.True(t, r.Allow("ip"))
	now = now.Add(30 * time.Second)
	assert.True(t, r.Allow("ip"))
	assert.False(t, r.Allow("ip"))

	// First hit ages out at +60s, the second is still in the window.
	now = now.Add(31 * time.Second)
	assert.True(t, r.Allow("ip"))
	assert.False(t, r.Allow("ip"))
}

func TestRateLimiterSweepDropsIdleClients(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r := NewRateLimiter(5, time.Minute)
	r.now = func() time.Time { return now }

	r.Allow("10.0.0.1")
	r.Allow("10.0.0.2")

	// Inside the window both entries survive.
	r.Sweep()
	r.mu.Lock()
	assert.Len(t, r.hits, 2)
	r.mu.Unlock()

	// Once every hit has aged out the entries are released, even for
	// clients that never call Allow again.
	now = now.Add(2 * time.Minute)
	r.Sweep()
	r.mu.Lock()
	assert.Empty(t, r.hits)
	r.mu.Unlock()
}
