// Package retry wraps a single asynchronous operation with bounded,
// exponentially-delayed retries, distinguishing retryable from terminal
// failures.
package retry

import (
	"context"
	"time"

	apperrors "offerflow/internal/common/errors"
	"offerflow/internal/common/logger"
	"offerflow/internal/common/metrics"
)

const defaultBaseDelay = 1 * time.Second

// Config controls one retry loop. BaseDelay is the wait after the first
// failure; attempt n waits BaseDelay * 2^(n-1).
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs fn up to cfg.MaxAttempts times. Terminal errors (validation,
// missing credential) abort immediately; anything else is retried with
// exponential backoff. After the final failed attempt the last error is
// wrapped in RETRY_EXHAUSTED. The wait honors ctx cancellation.
func Do(ctx context.Context, cfg Config, operation string, log logger.Logger, fn func(ctx context.Context) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		metrics.ModelRetryAttempts.WithLabelValues(operation).Inc()

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.IsRetryable(err) {
			log.Warn("terminal error, not retrying", map[string]interface{}{
				"operation": operation,
				"attempt":   attempt,
				"error":     err.Error(),
			})
			return err
		}

		if attempt == maxAttempts {
			break
		}

		delay := baseDelay << (attempt - 1)
		log.Warn("operation failed, retrying", map[string]interface{}{
			"operation":   operation,
			"attempt":     attempt,
			"maxAttempts": maxAttempts,
			"delayMs":     delay.Milliseconds(),
			"error":       err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return apperrors.NewRetryExhaustedError(operation, maxAttempts, lastErr)
}
