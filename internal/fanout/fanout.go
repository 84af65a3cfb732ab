// Package fanout runs the same operation over a list of items with a
// bounded number of parallel workers. The first failure cancels the
// remaining work.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds parallel branches when no limit is configured.
const DefaultLimit = 5

// Each runs fn for every index in [0, count) with at most limit branches
// in flight. On the first error the shared context is cancelled, sibling
// branches are abandoned as soon as they observe it, and that first error
// is returned.
func Each(ctx context.Context, limit, count int, fn func(ctx context.Context, index int) error) error {
	if count <= 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for index := 0; index < count; index++ {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return fn(groupCtx, index)
		})
	}
	return group.Wait()
}

// Collect runs fn for every index with bounded parallelism and returns the
// results in input order. On failure the partial results are discarded and
// the first error is returned.
func Collect[T any](ctx context.Context, limit, count int, fn func(ctx context.Context, index int) (T, error)) ([]T, error) {
	results := make([]T, count)
	err := Each(ctx, limit, count, func(ctx context.Context, index int) error {
		value, err := fn(ctx, index)
		if err != nil {
			return err
		}
		results[index] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
