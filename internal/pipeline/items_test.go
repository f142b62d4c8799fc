package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(i int) string { return fmt.Sprint(i) }

func TestRunItems_KeepsOrderAndBoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	results, err := RunItems(context.Background(), items, itoa, ItemOptions{Concurrency: 2},
		func(_ context.Context, n int) (int, error) {
			cur := inflight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inflight.Add(-1)
			return n * n, nil
		})

	require.NoError(t, err)
	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, itoa(items[i]), r.ItemID)
		assert.Equal(t, items[i]*items[i], r.Value)
		assert.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunItems_SoftFailuresKeepOthers(t *testing.T) {
	results, err := RunItems(context.Background(), []int{1, 2, 3}, itoa, ItemOptions{},
		func(_ context.Context, n int) (string, error) {
			if n == 2 {
				return "", errors.New("rate limited")
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "rate limited")
	assert.NoError(t, results[2].Err)

	pc := newTestContext()
	ok := Collect(pc, "generate", results)
	assert.Len(t, ok, 2)
	errs := pc.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "generate", errs[0].StepID)
	assert.Equal(t, "2", errs[0].ItemID)
}

func TestRunItems_PanicBecomesItemError(t *testing.T) {
	results, err := RunItems(context.Background(), []int{1, 2}, itoa, ItemOptions{},
		func(_ context.Context, n int) (int, error) {
			if n == 1 {
				panic("index out of range")
			}
			return n, nil
		})

	require.NoError(t, err)
	assert.ErrorContains(t, results[0].Err, "panic: index out of range")
	assert.Equal(t, 2, results[1].Value)
}

func TestRunItems_TimeoutIsPerItem(t *testing.T) {
	results, err := RunItems(context.Background(), []int{1, 2}, itoa, ItemOptions{Timeout: 10 * time.Millisecond},
		func(ctx context.Context, n int) (int, error) {
			if n == 1 {
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return n, nil
		})

	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.NoError(t, results[1].Err)
}

func TestRunItems_FailFastStopsRemaining(t *testing.T) {
	var started atomic.Int32
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	results, err := RunItems(context.Background(), items, itoa, ItemOptions{Concurrency: 1, FailFast: true},
		func(_ context.Context, n int) (int, error) {
			started.Add(1)
			if n == 0 {
				return 0, errors.New("fatal")
			}
			return n, nil
		})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 0: fatal")
	assert.Less(t, started.Load(), int32(len(items)))
	assert.ErrorIs(t, results[len(results)-1].Err, context.Canceled)
}

func TestRunItems_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results, err := RunItems(ctx, []int{1, 2, 3}, itoa, ItemOptions{},
		func(context.Context, int) (int, error) {
			calls.Add(1)
			return 0, nil
		})

	require.NoError(t, err)
	assert.Zero(t, calls.Load())
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestRunItems_Empty(t *testing.T) {
	results, err := RunItems(context.Background(), []int(nil), itoa, ItemOptions{},
		func(context.Context, int) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Empty(t, results)
}
