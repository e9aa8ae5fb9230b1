package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsMidway(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryReturnsLastErrorAfterAllAttempts(t *testing.T) {
	attempts := 0
	final := errors.New("attempt 3")
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		attempts++
		if attempts == 3 {
			return final
		}
		return errors.New("earlier")
	})

	assert.ErrorIs(t, err, final)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryThroughBreakerStopsWhenBreakerOpens(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	for i := 0; i < 5; i++ {
		cb.Execute(func() error { return errors.New("fail") })
	}
	require.Equal(t, StateOpen, cb.GetState())

	attempts := 0
	err := RetryThroughBreaker(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, cb, func() error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, attempts, "no call reaches a fast-failing breaker")
}

func TestRetryThroughBreakerRetriesTransientFailures(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	attempts := 0
	err := RetryThroughBreaker(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, cb, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, StateClosed, cb.GetState())
}
