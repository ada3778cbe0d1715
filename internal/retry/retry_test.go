package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoWithValueSucceedsFirstAttempt(t *testing.T) {
	value, res := DoWithValue(context.Background(), fastConfig(), func() (string, error) {
		return "ok", nil
	})
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if value != "ok" {
		t.Errorf("value = %q", value)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestDoWithValueRetriesUntilSuccess(t *testing.T) {
	calls := 0
	value, res := DoWithValue(context.Background(), fastConfig(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if res.Err != nil {
		t.Fatalf("err = %v", res.Err)
	}
	if value != 42 {
		t.Errorf("value = %d", value)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestDoWithValueExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	transient := errors.New("still down")
	_, res := DoWithValue(context.Background(), fastConfig(), func() (int, error) {
		calls++
		return 0, transient
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if !errors.Is(res.Err, transient) {
		t.Errorf("err = %v, want last attempt error", res.Err)
	}
}

func TestDoWithValueStopsOnPermanent(t *testing.T) {
	calls := 0
	_, res := DoWithValue(context.Background(), fastConfig(), func() (int, error) {
		calls++
		return 0, Permanent(errors.New("bad request"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (permanent errors must not retry)", calls)
	}
	if !IsPermanent(res.Err) {
		t.Errorf("err = %v, want permanent", res.Err)
	}
}

func TestDoWithValueKeepsAttemptErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attemptErr := errors.New("transient")
	cfg := fastConfig()
	cfg.InitialDelay = time.Minute // the sleep would dominate; cancel cuts it short

	_, res := DoWithValue(ctx, cfg, func() (int, error) {
		cancel()
		return 0, attemptErr
	})
	if !errors.Is(res.Err, attemptErr) {
		t.Errorf("err = %v, want the attempt's own error preserved", res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestDoWithValueCanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, res := DoWithValue(ctx, fastConfig(), func() (int, error) {
		calls++
		return 0, nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", res.Err)
	}
}

func TestPermanentNilPassesThrough(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must stay nil")
	}
	if IsPermanent(nil) {
		t.Error("nil is not permanent")
	}
}

func TestPermanentUnwraps(t *testing.T) {
	inner := errors.New("boom")
	wrapped := Permanent(inner)
	if !errors.Is(wrapped, inner) {
		t.Error("wrapped error must unwrap to the original")
	}
}

func TestBackoffProgression(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 4 * time.Second, Factor: 2.0}
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := cfg.backoff(tt.failures); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}
