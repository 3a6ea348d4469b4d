package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetrier(maxAttempts int) *Retrier {
	return NewRetrier(&RetryConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	})
}

func TestRetrierSucceedsAfterFailures(t *testing.T) {
	r := fastRetrier(3)
	attempts := 0
	result, err := DoWithResult(context.Background(), r, func(_ context.Context, attempt int) (string, error) {
		attempts++
		if attempt < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	r := fastRetrier(3)
	attempts := 0
	err := r.Do(context.Background(), func(context.Context, int) error {
		attempts++
		return errors.New("still broken")
	})
	require.Error(t, err)
	assert.Equal(t, "still broken", err.Error())
	assert.Equal(t, 3, attempts)
}

func TestRetrierNonRetryableStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")
	r := NewRetrier(&RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
		Retryable:    func(err error) bool { return !errors.Is(err, fatal) },
	})
	attempts := 0
	err := r.Do(context.Background(), func(context.Context, int) error {
		attempts++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetrierHonorsContext(t *testing.T) {
	r := NewRetrier(&RetryConfig{
		MaxAttempts:  10,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   1.0,
	})
	ctx, cancel := context.WithCancel(context.Background())
	err := r.Do(ctx, func(context.Context, int) error {
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelayCapped(t *testing.T) {
	r := NewRetrier(&RetryConfig{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	})
	assert.Equal(t, time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(2))
	assert.Equal(t, 4*time.Second, r.calculateDelay(3))
	// Growth stops at the cap.
	assert.Equal(t, 4*time.Second, r.calculateDelay(6))
}
