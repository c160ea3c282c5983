package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig controls RetryWithBackoff.
type RetryConfig struct {
	// MaxAttempts includes the first attempt; values below one mean one.
	MaxAttempts int

	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after every failed attempt.
	BackoffFactor float64

	// JitterFactor adds up to this fraction of the delay at random.
	JitterFactor float64

	// RetryableErrors filters errors worth retrying. Nil retries everything.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns 3 attempts starting at one second, doubling up to
// 30 seconds with 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryWithBackoff calls fn until it succeeds, returns a non-retryable error,
// runs out of attempts or ctx is done. The last error is wrapped in the
// returned one.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	attempts := max(config.MaxAttempts, 1)
	delay := config.InitialDelay

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if config.RetryableErrors != nil && !config.RetryableErrors(lastErr) {
			return lastErr
		}
		if attempt >= attempts {
			break
		}

		wait := delay
		if config.JitterFactor > 0 && wait > 0 {
			wait += time.Duration(rand.Int63n(int64(float64(wait)*config.JitterFactor) + 1))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		if config.BackoffFactor > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded after %d attempts: %w", attempts, lastErr)
}
