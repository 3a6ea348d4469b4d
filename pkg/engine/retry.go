package engine

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig contains retry configuration
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases
	Multiplier float64

	// Jitter adds randomness to delays (0-1, fraction of delay)
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retrier handles retry logic
type Retrier struct {
	config *RetryConfig
}

// NewRetrier creates a new retrier
func NewRetrier(config *RetryConfig) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &Retrier{config: config}
}

func (r *Retrier) retryable(err error) bool {
	if r.config.Retryable == nil {
		return true
	}
	return r.config.Retryable(err)
}

// Do executes the function with retry logic
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	_, err := DoWithResult(ctx, r, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// calculateDelay calculates the delay for a given attempt
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter > 0 {
		delay += delay * r.config.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// DoWithResult executes a function that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.calculateDelay(attempt)):
			}
		}

		var err error
		result, err = fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !r.retryable(err) {
			return result, err
		}
	}
	return result, lastErr
}
