package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds per-item work when a step sets no limit.
const DefaultConcurrency = 4

// ItemResult is the outcome of one unit of work within a step.
type ItemResult[R any] struct {
	ItemID string
	Value  R
	Err    error
}

// ItemOptions controls RunItems.
type ItemOptions struct {
	Concurrency int

	// Timeout bounds each item. A timed-out item fails like any other.
	Timeout time.Duration

	// FailFast cancels the remaining items after the first failure and
	// returns that failure.
	FailFast bool
}

// RunItems applies fn to every item with bounded concurrency. Results keep
// input order. Items not started before ctx is cancelled carry ctx's
// error. Panics in fn become item errors.
func RunItems[T, R any](ctx context.Context, items []T, id func(T) string, opts ItemOptions, fn func(context.Context, T) (R, error)) ([]ItemResult[R], error) {
	results := make([]ItemResult[R], len(items))
	if len(items) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if !opts.FailFast {
		g, gctx = &errgroup.Group{}, ctx
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)

	for i, item := range items {
		results[i].ItemID = id(item)
		if err := gctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			ictx := gctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				ictx, cancel = context.WithTimeout(gctx, opts.Timeout)
				defer cancel()
			}
			v, err := safeCall(ictx, item, fn)
			results[i].Value, results[i].Err = v, err
			if err != nil && opts.FailFast {
				return fmt.Errorf("item %s: %w", results[i].ItemID, err)
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

func safeCall[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}

// Collect records every failed result on pc under stepID and returns the
// successful ones.
func Collect[R any](pc *Context, stepID string, results []ItemResult[R]) []ItemResult[R] {
	ok := make([]ItemResult[R], 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			pc.RecordError(stepID, r.ItemID, r.Err)
			continue
		}
		ok = append(ok, r)
	}
	return ok
}
