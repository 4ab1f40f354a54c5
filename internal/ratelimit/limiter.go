// Package ratelimit provides the per-user request limiter consumed by
// the advisor orchestrator. The orchestrator only sees a yes/no
// verdict; an error from the check is treated there as a deny.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token bucket per user.
type LocalLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	users map[int64]*rate.Limiter
}

func NewLocalLimiter(perMinute, burst int) *LocalLimiter {
	return &LocalLimiter{
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		users: make(map[int64]*rate.Limiter),
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, userID int64) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.users[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.users[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}
