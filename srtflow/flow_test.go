package srtflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketPacingAdmitsThenRefuses(t *testing.T) {
	now := time.Now()
	// 1000 bytes/sec max rate -> capacity 1000/8=125 bytes initially full.
	c := NewController(8192, 8000, now)
	c.Bucket.Capacity = 2000
	c.Bucket.FillRate = 1000
	c.Bucket.level = 2000

	ok1 := c.Admit(now, 2000)
	assert.True(t, ok1)
	assert.Equal(t, uint64(0), c.Stats.RateLimitedCount)

	ok2 := c.Admit(now, 2000)
	assert.False(t, ok2)
	assert.Equal(t, uint64(1), c.Stats.RateLimitedCount)
}

func TestSendWindowCapsInFlight(t *testing.T) {
	now := time.Now()
	c := NewController(2, 1_000_000, now)
	assert.True(t, c.Admit(now, 10))
	assert.True(t, c.Admit(now, 10))
	assert.False(t, c.Admit(now, 10))
	assert.Equal(t, uint64(1), c.Stats.WindowFullCount)

	c.OnAcked(1)
	assert.True(t, c.Admit(now, 10))
}

func TestPeerReceiveWindowHonored(t *testing.T) {
	now := time.Now()
	c := NewController(100, 1_000_000, now)
	c.OnPeerReceiveWindow(1)
	assert.True(t, c.Admit(now, 10))
	assert.False(t, c.Admit(now, 10))
}

func TestBucketRefillsOverTime(t *testing.T) {
	now := time.Now()
	b := NewTokenBucket(1000, 1000, now)
	assert.True(t, b.Allow(now, 1000))
	assert.False(t, b.Allow(now, 1))
	later := now.Add(500 * time.Millisecond)
	assert.True(t, b.Allow(later, 500))
}
