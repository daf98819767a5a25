package engine

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout reports that the condition did not hold before the
// deadline.
var ErrWaitTimeout = errors.New("condition wait timed out")

// awaitCondition polls cond until it returns true, errors, the timeout
// elapses or ctx is canceled. cond is checked once immediately before the
// first sleep. A cond error aborts the wait and is returned as-is.
func awaitCondition(ctx context.Context, timeout, poll time.Duration, cond func(context.Context) (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
