package retry

import (
	"context"
	"time"
)

// Do calls f until it succeeds, the strategy gives up, retryable reports false, or ctx ends.
// The last error from f is returned.
func Do[T any](ctx context.Context, strategy Strategy, retryable func(error) bool, f func(context.Context) (T, error)) (T, error) {
	if strategy == nil {
		strategy = NewNever()
	}

	var retryCount uint
	for {
		v, err := f(ctx)
		if err == nil {
			return v, nil
		}
		if retryable != nil && !retryable(err) {
			return v, err
		}

		sleep, exceeded := strategy.Sleep(retryCount)
		if exceeded {
			return v, err
		}
		if werr := wait(ctx, sleep); werr != nil {
			return v, err
		}
		retryCount++
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
