// Package ratelimit bounds per-user request throughput on the invoke
// endpoint: one token bucket per user id, refilled continuously from the
// configured sustained rate, with idle buckets pruned so an open-ended user
// population cannot grow the map without bound.
package ratelimit

import (
	"sync"
	"time"
)

// Config sets the per-user sustained rate and burst allowance.
type Config struct {
	// RequestsPerSecond is the sustained refill rate per user.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is how many requests a user may issue back to back.
	BurstSize int `yaml:"burst_size"`
}

// DefaultConfig returns the default per-user policy.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5.0,
		BurstSize:         10,
	}
}

// maxTrackedUsers caps the bucket map; reaching it triggers a prune of
// fully-refilled (idle) buckets before admitting a new user.
const maxTrackedUsers = 10000

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a per-user token-bucket rate limiter.
type Limiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket

	// now is the clock; tests substitute a fixed one.
	now func() time.Time
}

// NewLimiter builds a Limiter from cfg, filling unset values from the
// default policy.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{
		rate:    cfg.RequestsPerSecond,
		burst:   float64(cfg.BurstSize),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one token from userID's bucket, reporting whether the
// request may proceed. A user seen for the first time starts with a full
// burst allowance.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		if len(l.buckets) >= maxTrackedUsers {
			l.pruneLocked(now)
		}
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[userID] = b
	} else {
		b.tokens += now.Sub(b.last).Seconds() * l.rate
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Reset forgets userID's bucket; their next request starts a fresh burst.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, userID)
}

// pruneLocked drops buckets that have refilled completely: those users have
// been idle long enough to be indistinguishable from new ones.
func (l *Limiter) pruneLocked(now time.Time) {
	for id, b := range l.buckets {
		refilled := b.tokens + now.Sub(b.last).Seconds()*l.rate
		if refilled >= l.burst {
			delete(l.buckets, id)
		}
	}
}
