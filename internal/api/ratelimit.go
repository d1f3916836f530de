package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Default per-user limits for endpoints that reach the game panel.
const (
	DefaultRateLimit = 1 // requests per second
	DefaultRateBurst = 5
)

// RateLimiter throttles panel-facing operations per user, so one account
// cannot flood the panel with create/pause/unpause calls.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[uuid.UUID]*userLimiter
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter allowing rps requests per second with
// the given burst per user.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[uuid.UUID]*userLimiter),
		now:      time.Now,
	}
}

// allow reports whether userID may make another request now.
func (rl *RateLimiter) allow(userID uuid.UUID) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// Cleanup prunes limiters idle for longer than idle every interval until
// ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune(idle)
		}
	}
}

func (rl *RateLimiter) prune(idle time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, ul := range rl.limiters {
		if now.Sub(ul.lastSeen) > idle {
			delete(rl.limiters, id)
		}
	}
}

// HumaMiddleware rate limits huma operations by the authenticated user.
// It must run after humaAuthMiddleware.
func (rl *RateLimiter) HumaMiddleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		user, ok := GetUser(ctx.Context())
		if !ok {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !rl.allow(user.ID) {
			ctx.SetHeader("Retry-After", "1")
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(ctx)
	}
}
