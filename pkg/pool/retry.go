package pool

import (
	"context"
	"errors"
	"time"

	"github.com/odvcencio/babel/pkg/object"
)

const (
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultRetryMaxDelay  = time.Second
)

// Retry runs fn until it succeeds, fails with an error other than
// object.ErrPoolTimeout, or attempts run out. Waits between attempts grow
// exponentially.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, object.ErrPoolTimeout) {
			return err
		}
		if attempt == attempts {
			break
		}
		if werr := waitRetry(ctx, retryDelay(attempt)); werr != nil {
			return werr
		}
	}
	return err
}

func retryDelay(attempt int) time.Duration {
	delay := defaultRetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= defaultRetryMaxDelay {
			return defaultRetryMaxDelay
		}
	}
	return delay
}

func waitRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
