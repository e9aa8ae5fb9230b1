package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryConfig holds configuration for retrying an operation with
// exponential backoff. All downstream service calls share this one
// abstraction instead of per-call-site retry loops.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// BaseDelay is the delay before the second attempt; it doubles on
	// every subsequent attempt
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay; zero means no cap
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the retry policy used for downstream calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
	}
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping with exponential
// backoff between attempts. It returns nil on the first success, the last
// error otherwise, and stops early when ctx is cancelled.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return lastErr
}

// RetryThroughBreaker runs fn through the circuit breaker with retries.
// An open breaker ends the retry loop immediately; there is no point
// backing off against a gate that fast-fails.
func RetryThroughBreaker(ctx context.Context, cfg RetryConfig, cb *CircuitBreaker, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		err := cb.Execute(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		lastErr = err
	}

	return lastErr
}
