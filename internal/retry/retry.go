// Package retry provides a bounded exponential-backoff wrapper for
// transient failures.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the wait after the first failure; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// IsFatal, when set, marks errors that must not be retried: a retry
	// cannot fix an authentication failure or a version conflict, so those
	// surface to the caller immediately. Nil retries everything.
	IsFatal func(error) bool

	// Sleep is overridable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultPolicy returns the standard sync retry policy: 3 attempts, 1s
// base, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Do runs fn until it succeeds, a fatal error occurs, the context is
// cancelled, or attempts are exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.IsFatal != nil && p.IsFatal(lastErr) {
			return lastErr
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		if attempt < p.MaxAttempts {
			sleep(delay)
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return lastErr
}
