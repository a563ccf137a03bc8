package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WithRetry runs fn, retrying with exponential backoff while it reports
// ErrBusy. Any other error is permanent. Intended for the boundary layer;
// the matching core itself stays synchronous and retry-free.
func WithRetry(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond

	return backoff.Retry(func() error {
		err := fn()
		if err == nil || errors.Is(err, ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx))
}
