// Package retry implements the outbound-call retry policy shared by the
// tool-plane transport and the LLM client: a bounded number of attempts with
// exponential backoff (1s, 2s, 4s by default) and a permanent-error wrapper
// for failures that must never be retried, such as 4xx responses and schema
// validation rejects.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config bounds one retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the backoff after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Factor multiplies the delay after each failure.
	Factor float64
}

// DefaultConfig returns the documented transport policy: three attempts,
// backed off 1s then 2s then 4s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Factor:       2.0,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 4 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// backoff returns the sleep before the next attempt given the number of
// failures so far: 1 failure -> InitialDelay, 2 -> InitialDelay*Factor, and
// so on up to MaxDelay.
func (c Config) backoff(failures int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < failures; i++ {
		delay = time.Duration(float64(delay) * c.Factor)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// PermanentError marks an error the loop must not retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so DoWithValue stops immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Result reports how a retry loop ended.
type Result struct {
	// Attempts is the number of times op ran.
	Attempts int
	// Err is the last error observed; nil on success.
	Err error
	// Duration is the total wall time spent, sleeps included.
	Duration time.Duration
}

// DoWithValue runs op until it succeeds, returns a permanent error, the
// attempt budget runs out, or ctx is done. Backoff sleeps honor ctx; a
// cancellation during the sleep keeps the last attempt's error in Result so
// callers retain its classification.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var zero T
	cfg := config.normalized()
	start := time.Now()
	res := Result{}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if res.Err == nil {
				res.Err = err
			}
			res.Duration = time.Since(start)
			return zero, res
		}

		res.Attempts = attempt
		value, err := op()
		if err == nil {
			res.Err = nil
			res.Duration = time.Since(start)
			return value, res
		}
		res.Err = err

		if IsPermanent(err) || attempt >= cfg.MaxAttempts {
			res.Duration = time.Since(start)
			return zero, res
		}

		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return zero, res
		case <-time.After(cfg.backoff(attempt)):
		}
	}
}
