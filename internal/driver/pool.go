package driver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/depdb/internal/model"
)

// RunPool executes fn for every key in keys, bounded to jobs concurrent
// goroutines, and returns the first error encountered (the rest are
// cancelled via the group's derived context). This is the reference
// implementation of spec.md §5's "callers are expected to parallelize
// across the Execute keys returned by request".
func RunPool(ctx context.Context, jobs int, keys []model.Key, fn func(ctx context.Context, key model.Key) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for _, k := range keys {
		k := k
		g.Go(func() error {
			return fn(ctx, k)
		})
	}
	return g.Wait()
}
