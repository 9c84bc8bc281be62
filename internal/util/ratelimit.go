package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is an explicit request budget for one upstream data source.
// Each fetcher receives its own instance; there is no package-level limiter.
type RateLimiter struct {
	name string
	lim  *rate.Limiter
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. A non-positive perMinute means unlimited.
func NewRateLimiter(name string, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{name: name, lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{
		name: name,
		lim:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Name returns the upstream this budget belongs to.
func (rl *RateLimiter) Name() string {
	return rl.name
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.lim.Wait(ctx)
}
