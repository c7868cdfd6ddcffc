package stt

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ChunkFunc transcribes the chunk at path, which sits at position index in
// the batch.
type ChunkFunc func(ctx context.Context, index int, path string) (string, error)

// RunBatch calls fn for every path with at most batchSize calls in flight and
// collects the results by index. The first error cancels the remaining calls
// and is returned; no partial results are returned in that case.
func RunBatch(ctx context.Context, paths []string, batchSize int, fn ChunkFunc) ([]string, error) {
	results := make([]string, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(batchSize, 1))
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := fn(gctx, i, p)
			if err != nil {
				return err
			}
			results[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
