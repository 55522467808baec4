package httpapi

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterShardCount = 64

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterShard struct {
	sync.Mutex
	users map[int64]*userLimiter
}

// UserLimiter is a per-user token bucket for scan requests. Buckets live in a
// sharded map and are dropped after sitting idle for the expiration period.
type UserLimiter struct {
	shards     [limiterShardCount]*limiterShard
	limit      rate.Limit
	burst      int
	expiration time.Duration
	now        func() time.Time
}

// NewUserLimiter allows perSecond scans per user with the given burst
func NewUserLimiter(perSecond float64, burst int, expiration time.Duration) *UserLimiter {
	l := &UserLimiter{
		limit:      rate.Limit(perSecond),
		burst:      burst,
		expiration: expiration,
		now:        time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &limiterShard{users: make(map[int64]*userLimiter)}
	}
	return l
}

func (l *UserLimiter) shard(userID int64) *limiterShard {
	return l.shards[uint64(userID)%limiterShardCount]
}

// Allow reports whether userID may scan now, consuming a token if so
func (l *UserLimiter) Allow(userID int64) bool {
	s := l.shard(userID)
	now := l.now()

	s.Lock()
	state, ok := s.users[userID]
	if !ok {
		state = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		s.users[userID] = state
	}
	state.lastSeen = now
	s.Unlock()

	return state.limiter.AllowN(now, 1)
}

// Cleanup removes buckets idle for longer than the expiration period and
// returns how many were removed
func (l *UserLimiter) Cleanup() int {
	cutoff := l.now().Add(-l.expiration)
	removed := 0
	for _, s := range l.shards {
		s.Lock()
		for id, state := range s.users {
			if state.lastSeen.Before(cutoff) {
				delete(s.users, id)
				removed++
			}
		}
		s.Unlock()
	}
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled
func (l *UserLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
