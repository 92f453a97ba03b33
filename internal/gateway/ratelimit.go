// ABOUTME: Per-caller token bucket rate limiting for tool calls.
// ABOUTME: Lazily creates one limiter per caller identity and prunes idle entries.

package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callerLimiter hands out one token bucket per caller identity.
type callerLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// pruneAfter is how long an idle caller's bucket is kept before eviction.
const pruneAfter = 30 * time.Minute

func newCallerLimiter(limit rate.Limit, burst int) *callerLimiter {
	return &callerLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

// allow reports whether the caller may issue a call right now.
func (c *callerLimiter) allow(callerID string) bool {
	if c.limit <= 0 {
		return true
	}

	c.mu.Lock()
	entry, ok := c.limiters[callerID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.limiters[callerID] = entry
	}
	entry.lastSeen = time.Now()
	if len(c.limiters) > 1024 {
		c.pruneLocked()
	}
	c.mu.Unlock()

	return entry.limiter.Allow()
}

func (c *callerLimiter) pruneLocked() {
	cutoff := time.Now().Add(-pruneAfter)
	for id, entry := range c.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(c.limiters, id)
		}
	}
}
