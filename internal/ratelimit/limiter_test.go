package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

// fixedClock returns a limiter whose clock the test advances by hand.
func fixedClock(l *Limiter) *time.Time {
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return &now
}

func TestAllowExhaustsBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 3})
	fixedClock(l)

	for i := 0; i < 3; i++ {
		if !l.Allow("u1") {
			t.Fatalf("request %d within burst must be allowed", i+1)
		}
	}
	if l.Allow("u1") {
		t.Fatal("request beyond burst must be denied")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 2, BurstSize: 1})
	now := fixedClock(l)

	if !l.Allow("u1") {
		t.Fatal("first request must be allowed")
	}
	if l.Allow("u1") {
		t.Fatal("burst of one is spent")
	}

	*now = now.Add(500 * time.Millisecond) // 2 rps: one token back
	if !l.Allow("u1") {
		t.Fatal("refilled token must be allowed")
	}
	if l.Allow("u1") {
		t.Fatal("only one token refilled")
	}
}

func TestAllowRefillCapsAtBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2})
	now := fixedClock(l)

	l.Allow("u1")
	*now = now.Add(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Allow("u1") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("allowed = %d, want burst cap of 2 after long idle", allowed)
	}
}

func TestAllowIsolatesUsers(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	fixedClock(l)

	if !l.Allow("u1") {
		t.Fatal("u1 first request must be allowed")
	}
	if l.Allow("u1") {
		t.Fatal("u1 is out of tokens")
	}
	if !l.Allow("u2") {
		t.Fatal("u2 must have an independent bucket")
	}
}

func TestResetRestoresBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	fixedClock(l)

	l.Allow("u1")
	if l.Allow("u1") {
		t.Fatal("bucket spent")
	}
	l.Reset("u1")
	if !l.Allow("u1") {
		t.Fatal("reset user starts a fresh burst")
	}
}

func TestPruneDropsIdleBuckets(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 1})
	now := fixedClock(l)

	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("user-%d", i))
	}
	*now = now.Add(time.Minute) // everyone refills fully

	l.mu.Lock()
	l.pruneLocked(l.now())
	remaining := len(l.buckets)
	l.mu.Unlock()

	if remaining != 0 {
		t.Fatalf("remaining buckets = %d, want 0 after idle prune", remaining)
	}
}

func TestNewLimiterFillsDefaults(t *testing.T) {
	l := NewLimiter(Config{})
	if l.rate != DefaultConfig().RequestsPerSecond {
		t.Errorf("rate = %v", l.rate)
	}
	if l.burst != l.rate*2 {
		t.Errorf("burst = %v, want twice the rate", l.burst)
	}
}
