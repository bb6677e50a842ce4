package kv

import (
	"sync"

	"golang.org/x/time/rate"
)

// Admission is the local token-bucket layer in front of the distributed
// KV rate-limit check: a cheap per-process gate that absorbs bursts
// before anything round-trips to Redis, keyed per user.
type Admission struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewAdmission(requestsPerSecond float64, burst int) *Admission {
	return &Admission{
		limiters: map[string]*rate.Limiter{},
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Allow reports whether userID may proceed locally right now. A false
// result should short-circuit before any distributed KV call.
func (a *Admission) Allow(userID string) bool {
	a.mu.Lock()
	l, ok := a.limiters[userID]
	if !ok {
		l = rate.NewLimiter(a.rps, a.burst)
		a.limiters[userID] = l
	}
	a.mu.Unlock()
	return l.Allow()
}
