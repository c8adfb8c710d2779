package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type outcome[R any] struct {
	value R
	ok    bool
	err   *RecordError
}

// fanOut runs fn over items with at most workers in flight. Every completion is
// sent on one channel and collected by a single goroutine, so the result slices
// need no lock. A unit that panics is reported as a RecordError and the rest of
// the batch continues. fanOut returns only after every unit has finished; it
// does not cancel siblings and does not retry. Result order is completion order.
func fanOut[T, R any](ctx context.Context, items []T, workers int, subject func(T) string, fn func(ctx context.Context, i int, item T) (R, bool)) ([]R, []RecordError) {
	if workers < 1 {
		workers = 1
	}

	results := make(chan outcome[R])
	done := make(chan struct{})

	var out []R
	var errs []RecordError
	go func() {
		defer close(done)
		for o := range results {
			switch {
			case o.err != nil:
				errs = append(errs, *o.err)
			case o.ok:
				out = append(out, o.value)
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results <- runUnit(ctx, i, item, subject, fn)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-done

	return out, errs
}

func runUnit[T, R any](ctx context.Context, i int, item T, subject func(T) string, fn func(context.Context, int, T) (R, bool)) (o outcome[R]) {
	defer func() {
		if p := recover(); p != nil {
			o = outcome[R]{err: &RecordError{Index: i, Subject: subject(item), Message: fmt.Sprint("panic: ", p)}}
		}
	}()
	v, ok := fn(ctx, i, item)
	return outcome[R]{value: v, ok: ok}
}
