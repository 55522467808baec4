package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserLimiter_BurstThenDeny(t *testing.T) {
	l := NewUserLimiter(1, 3, time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(7), "request %d within burst", i+1)
	}
	assert.False(t, l.Allow(7))

	// Other users have their own bucket
	assert.True(t, l.Allow(8))

	now = now.Add(time.Second)
	assert.True(t, l.Allow(7), "one token refilled")
	assert.False(t, l.Allow(7))
}

func TestUserLimiter_Cleanup(t *testing.T) {
	l := NewUserLimiter(1, 1, time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow(1)
	l.Allow(65) // same shard as 1
	now = now.Add(45 * time.Second)
	l.Allow(2)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 2, l.Cleanup())
	assert.Equal(t, 0, l.Cleanup())

	// An expired user starts over with a full bucket
	assert.True(t, l.Allow(1))
}
