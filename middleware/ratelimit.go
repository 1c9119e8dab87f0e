// ABOUTME: Rate limiting middleware with sliding-window request logs
// ABOUTME: Limits are keyed by client IP and endpoint path

package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"
)

// RateLimiter enforces a maximum number of requests within any trailing window.
// Each key keeps the timestamps of its accepted requests.
type RateLimiter struct {
	mu           sync.Mutex
	logs         map[string][]time.Time
	limit        int
	window       time.Duration
	now          func() time.Time
	sweepCounter int // tracks new keys; triggers sweep every 100
}

// NewRateLimiter creates a rate limiter that allows limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		logs:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// SetClock replaces the limiter's time source.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	rl.now = now
	rl.mu.Unlock()
}

// Allow checks whether a request for the given key should be permitted.
// Returns true if within limits, or false with the duration until the oldest
// request in the window ages out.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	log, exists := rl.logs[key]
	log = prune(log, now.Add(-rl.window))

	if len(log) >= rl.limit {
		rl.logs[key] = log
		return false, log[0].Add(rl.window).Sub(now)
	}

	rl.logs[key] = append(log, now)

	if !exists {
		// Bound memory to active keys plus at most 100 stale entries
		rl.sweepCounter++
		if rl.sweepCounter >= 100 {
			rl.sweep(now)
			rl.sweepCounter = 0
		}
	}
	return true, 0
}

// prune drops timestamps at or before cutoff. Logs are in arrival order.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}

// sweep removes keys with no requests left in the window.
// Must be called while holding rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rl.window)
	for k, log := range rl.logs {
		if len(prune(log, cutoff)) == 0 {
			delete(rl.logs, k)
		}
	}
}

// IPKey keys a limiter by client IP alone.
func IPKey(r *http.Request) string {
	ip := ClientIP(r)
	if ip == "" {
		return ""
	}
	return "ip:" + ip
}

// IPAndPath keys a limiter by client IP and endpoint path.
func IPAndPath(r *http.Request) string {
	ip := ClientIP(r)
	if ip == "" {
		return ""
	}
	return "ip:" + ip + "|" + r.URL.Path
}

// RateLimit returns middleware that enforces rate limits using the given limiter and key function.
// If limiter is nil, the middleware is a no-op (disabled mode).
// If keyFunc returns an empty string, the request passes through (unidentifiable client).
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || keyFunc == nil {
				next(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next(w, r)
				return
			}

			allowed, retryAfter := limiter.Allow(key)
			if allowed {
				next(w, r)
				return
			}

			retrySeconds := int(math.Ceil(retryAfter.Seconds()))
			if retrySeconds < 1 {
				retrySeconds = 1
			}
			slog.Warn("Rate limit exceeded", "key", key, "path", r.URL.Path, "retry_after", retrySeconds)

			w.Header().Set("Retry-After", fmt.Sprintf("%d", retrySeconds))
			writeJSONError(w, "Rate limit exceeded", http.StatusTooManyRequests)
		}
	}
}
