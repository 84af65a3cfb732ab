// Package poll drives fixed-interval status checks for asynchronous
// external jobs until they reach a terminal state or the run context
// expires.
package poll

import (
	"context"
	"log/slog"
	"time"

	"lighthouse/internal/logging"
	"lighthouse/internal/services"
)

// Func checks job status once. It returns done=true when the job has
// reached a terminal state. A transient error keeps the loop polling; any
// other error aborts it.
type Func func(ctx context.Context) (done bool, err error)

// Options controls the polling cadence.
type Options struct {
	// InitialDelay is the wait before the first check. Zero checks
	// immediately.
	InitialDelay time.Duration
	// Interval is the wait between subsequent checks.
	Interval time.Duration
}

// Wait runs fn on the configured cadence until it reports done, returns a
// non-transient error, or ctx ends. Context expiry is reported as a
// timeout error so callers map it to the right terminal cause.
func Wait(ctx context.Context, logger *slog.Logger, opts Options, operation string, fn Func) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	if opts.InitialDelay > 0 {
		if err := sleep(ctx, opts.InitialDelay); err != nil {
			return services.Wrap(services.ErrTimeout, "", operation, "run deadline reached while waiting", err)
		}
	}

	for {
		done, err := fn(ctx)
		if err != nil {
			if services.IsTransient(err) {
				logger.Debug("status check failed, will poll again",
					logging.String("operation", operation),
					logging.Error(err))
			} else {
				return err
			}
		} else if done {
			return nil
		}

		if err := sleep(ctx, interval); err != nil {
			return services.Wrap(services.ErrTimeout, "", operation, "run deadline reached while polling", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
