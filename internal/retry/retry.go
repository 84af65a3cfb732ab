// Package retry implements bounded exponential backoff for operations
// against external services. Only transient failures are retried; any
// other error aborts immediately.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lighthouse/internal/logging"
	"lighthouse/internal/services"
)

// Policy describes a bounded backoff schedule. The first retry waits
// Interval, and each subsequent wait is multiplied by Multiplier.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Multiplier  float64
}

// Delay returns the wait before the given retry. Attempt 1 is the first
// retry after the initial failure.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(p.Interval)
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	for i := 1; i < attempt; i++ {
		delay *= multiplier
	}
	return time.Duration(delay)
}

// Do runs fn until it succeeds, returns a non-transient error, exhausts
// the policy, or the context ends. The final error is returned as-is so
// callers can classify it. When the context ends mid-retry the returned
// error carries the context error, so callers distinguishing shutdown
// from exhaustion see both.
func Do(ctx context.Context, logger *slog.Logger, policy Policy, operation string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w: %w", err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !services.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := policy.Delay(attempt)
		logger.Warn("retrying after transient failure",
			logging.String("operation", operation),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", delay),
			logging.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return lastErr
}
