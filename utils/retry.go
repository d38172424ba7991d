package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"olx-car-pipeline/models"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *Logger
}

// Do executes fn with exponential back-off and jitter. Only retryable
// failures (models.IsRetryable) are attempted again: a terminal error is
// returned immediately, since a removed ad or an unparseable page does not
// improve on retry. Cancellation of ctx aborts the wait between attempts.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	// A zero or negative budget still means one attempt, never a silent nil.
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !models.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < attempts {
			jittered := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v — retrying in %v",
				operationName, attempt, attempts, lastErr, jittered)
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}
