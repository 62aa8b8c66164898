package client

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/transport"
)

// Backoff constants: start at one second, double each failed attempt,
// cap at a minute, jitter by ±30% so a fleet of clients reconnecting to
// the same server after an outage doesn't reconnect in lockstep.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// runWithReconnect drives connect/stream/disconnect in a loop,
// reconnecting with exponential backoff on any non-local closure, until
// ctx is canceled.
func (c *Client) runWithReconnect(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.connect(ctx); err != nil {
			log.Warn("connect failed, will retry", "error", err, "backoff", backoff)
			if !sleepWithContext(ctx, jitter(backoff)) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		reason := c.streamLoop(ctx)
		c.wg.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reason == transport.ReasonLocalClose {
			return nil
		}

		log.Info("connection lost, reconnecting", "reason", reason)
		if !sleepWithContext(ctx, jitter(backoff)) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFactor * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		return 0
	}
	return result
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
