package crawler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostRateLimiter spaces page fetches per host. The limiter is shared
// process-wide, so two concurrent scans of the same host also space out
// rather than doubling the request rate against it.
type HostRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	delay    time.Duration
}

// NewHostRateLimiter creates a limiter with the given inter-request delay
func NewHostRateLimiter(delay time.Duration) *HostRateLimiter {
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		delay:    delay,
	}
}

// Wait blocks until a request to rawURL's host is allowed, or until ctx
// is cancelled.
func (rl *HostRateLimiter) Wait(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	if host == "" || rl.delay <= 0 {
		return nil
	}

	rl.mu.Lock()
	limiter, exists := rl.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.delay), 1)
		rl.limiters[host] = limiter
	}
	rl.mu.Unlock()

	return limiter.Wait(ctx)
}

// Forget drops the tracked state for a host once no scan targets it
func (rl *HostRateLimiter) Forget(host string) {
	rl.mu.Lock()
	delete(rl.limiters, host)
	rl.mu.Unlock()
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
