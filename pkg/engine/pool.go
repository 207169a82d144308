package engine

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// runUnits executes fn for every unit with at most maxParallel in flight.
//
// Once a unit fails, units that have not started are skipped. Units already
// running are never cancelled; runUnits waits for them and returns the first error.
func runUnits[U any](
	ctx context.Context,
	maxParallel int,
	units []U,
	fn func(ctx context.Context, i int, unit U) error,
) error {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	var g errgroup.Group
	g.SetLimit(maxParallel)

	var failed atomic.Bool
	for i, unit := range units {
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			if err := fn(ctx, i, unit); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// callWithTimeout runs fn under a deadline. It returns when fn returns or the
// deadline passes, whichever comes first, so an implementation that ignores
// its context still cannot block the stage.
func callWithTimeout[T any](
	ctx context.Context,
	timeout time.Duration,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}
