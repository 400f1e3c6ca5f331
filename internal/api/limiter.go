package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a user's bucket survives without requests.
const limiterIdleTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiters hands out one token bucket per user for write routes.
// Idle buckets are swept at most once per TTL.
type userLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*userLimiter
}

func newUserLimiters(perSecond float64, burst int) *userLimiters {
	return &userLimiters{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      limiterIdleTTL,
		now:      time.Now,
		limiters: make(map[string]*userLimiter),
	}
}

func (u *userLimiters) allow(user string) bool {
	now := u.now()
	return u.get(user, now).AllowN(now, 1)
}

func (u *userLimiters) get(user string, now time.Time) *rate.Limiter {
	u.mu.Lock()
	defer u.mu.Unlock()

	if now.Sub(u.lastSweep) >= u.ttl {
		u.sweep(now)
	}

	entry, ok := u.limiters[user]
	if !ok {
		entry = &userLimiter{limiter: rate.NewLimiter(u.limit, u.burst)}
		u.limiters[user] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (u *userLimiters) sweep(now time.Time) {
	for user, entry := range u.limiters {
		if now.Sub(entry.lastSeen) >= u.ttl {
			delete(u.limiters, user)
		}
	}
	u.lastSweep = now
}

func (u *userLimiters) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.limiters)
}
