package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/auth"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// RateLimiter is a sliding-window limiter keyed by device id. It caps how
// fast a single device can submit mutations; a whole four-ball scoring every
// hole stays far under the limit, a runaway retry loop does not.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
}

// NewRateLimiter allows limit events per key per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
	}
}

// Allow records one event for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	entries := rl.windows[key]
	valid := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= rl.limit {
		rl.windows[key] = valid
		return false
	}
	rl.windows[key] = append(valid, now)
	return true
}

// Middleware rejects requests from devices over the limit. Runs after
// authentication so the device id is available as the key.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if claims != nil && !rl.Allow(claims.DeviceID()) {
			RespondError(w, domain.ErrRateLimited(
				fmt.Sprintf("device exceeded %d requests per %s", rl.limit, rl.window)))
			return
		}
		next.ServeHTTP(w, r)
	})
}
