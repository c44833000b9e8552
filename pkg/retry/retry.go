// Package retry applies bounded exponential backoff to retryable failures.
//
// Only errors that opt in via the Retryable marker are retried; validation
// errors fail immediately. This keeps retry policy in one place instead of
// scattering sleeps through callers.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

// retryable is implemented by errors that are safe to retry.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err (or any error it wraps) is marked
// retryable.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// Do runs fn with exponential backoff until it succeeds, returns a
// non-retryable error, or maxElapsed passes. Context cancellation stops the
// retries immediately.
func Do(ctx context.Context, maxElapsed time.Duration, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}
