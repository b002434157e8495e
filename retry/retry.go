// Package retry provides the retry primitive shared by the fetcher, the
// document processor, the LLM client, and the workflow engine. Backoff is
// exponential: the wait before attempt n+1 is InitialDelay·Multiplier^n,
// optionally capped at MaxDelay.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier scales the delay after each attempt. Values below 1
	// default to 2.
	Multiplier float64
}

// Delay returns the wait before retrying after the given zero-based
// failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, the policy is exhausted, the error is not
// retryable, or the context is done. The last error is returned unmodified
// so callers can classify it. retryable may be nil, in which case every
// error is retried.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := Sleep(ctx, p.Delay(attempt-1)); werr != nil {
				return werr
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

// Sleep waits for d or until the context is done, whichever comes first.
// It returns the context error when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
