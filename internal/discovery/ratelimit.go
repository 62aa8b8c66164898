package discovery

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ratelimiter throttles requests per source IP, one token bucket per
// address from x/time/rate rather than hand-rolled sliding-window
// bookkeeping, since the library already implements the tricky burst
// math correctly.
type ratelimiter struct {
	mu      sync.Mutex
	buckets map[netip.Addr]*rate.Limiter

	ratePerMinute int
	burst         int

	lastSweep time.Time
}

const rateLimiterSweepInterval = 5 * time.Minute

// newRateLimiter builds a limiter allowing perMinute requests/minute
// per source IP, with a burst equal to perMinute: matching the steady
// rate keeps a single legitimate reconnect storm from tripping the
// limiter.
func newRateLimiter(perMinute int) *ratelimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &ratelimiter{
		buckets:       make(map[netip.Addr]*rate.Limiter),
		ratePerMinute: perMinute,
		burst:         perMinute,
		lastSweep:     time.Now(),
	}
}

// Allow reports whether a request from addr may proceed right now,
// consuming one token if so.
func (rl *ratelimiter) Allow(addr netip.Addr) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepLocked()

	lim, ok := rl.buckets[addr]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rl.ratePerMinute)/60.0), rl.burst)
		rl.buckets[addr] = lim
	}
	return lim.Allow()
}

// sweepLocked periodically drops buckets for IPs that have been fully
// idle for a while, so a long-running service doesn't accumulate one
// limiter per ever-seen client IP forever.
func (rl *ratelimiter) sweepLocked() {
	now := time.Now()
	if now.Sub(rl.lastSweep) < rateLimiterSweepInterval {
		return
	}
	rl.lastSweep = now
	for addr, lim := range rl.buckets {
		if lim.TokensAt(now) >= float64(rl.burst) {
			delete(rl.buckets, addr)
		}
	}
}
