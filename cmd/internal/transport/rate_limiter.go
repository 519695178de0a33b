package transport

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter caps outbound sends so a client stays below the per-connection
// budget the server enforces: limit events per window, refilled evenly.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter constructs a RateLimiter, falling back to defaults for invalid inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultSendRateEvents
	}
	if window <= 0 {
		window = defaultSendRateWindow
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
}

// Allow reports whether a send at now fits the budget, and spends a token if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	return r.lim.AllowN(now, 1)
}
