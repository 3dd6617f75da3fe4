package reliability

import (
	"context"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// DefaultPolicy is used when a zero Policy is passed to Retry.
var DefaultPolicy = Policy{Attempts: 5, Base: 500 * time.Millisecond, Cap: 30 * time.Second}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done. A RetryAfter hint on the error
// replaces the computed backoff for that attempt.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p = DefaultPolicy
	}
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == p.Attempts-1 {
			break
		}
		wait := RetryAfterOf(err)
		if wait <= 0 {
			wait = ExponentialBackoff(attempt, p.Base, p.Cap)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
