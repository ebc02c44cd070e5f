package support

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Chunks splits ids into consecutive slices of at most size elements, dropping duplicates and blanks.
func Chunks(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	var out [][]string
	for start := 0; start < len(unique); start += size {
		end := start + size
		if end > len(unique) {
			end = len(unique)
		}
		out = append(out, unique[start:end])
	}
	return out
}

// FanOut runs lookup once per chunk concurrently and concatenates results in chunk order.
func FanOut[T any](ctx context.Context, ids []string, size int, lookup func(ctx context.Context, chunk []string) ([]T, error)) ([]T, error) {
	chunks := Chunks(ids, size)
	if len(chunks) == 0 {
		return nil, nil
	}
	results := make([][]T, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			items, err := lookup(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []T
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}
