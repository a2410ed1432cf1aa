package engine

import (
	"context"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"golang.org/x/sync/errgroup"
)

// table is a key → accumulator table. Tables built over disjoint claim slices
// merge into the table of their union, so a reducer can be sharded freely.
type table[T any] interface {
	add(c claims.Claim) error
	merge(other T)
}

// ctxCheckEvery bounds how many claims a shard folds between context checks.
const ctxCheckEvery = 4096

// reduce folds cs into a table, splitting the work across shards goroutines
// and merging the partial tables in shard order.
func reduce[T table[T]](ctx context.Context, cs []claims.Claim, shards int, newTable func() T) (T, error) {
	parts := partition(cs, shards)
	if len(parts) <= 1 {
		t := newTable()
		for j, c := range cs {
			if j%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return t, err
				}
			}
			if err := t.add(c); err != nil {
				return t, err
			}
		}
		return t, nil
	}

	tables := make([]T, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			t := newTable()
			for j, c := range part {
				if j%ctxCheckEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if err := t.add(c); err != nil {
					return err
				}
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var zero T
		return zero, err
	}

	out := tables[0]
	for _, t := range tables[1:] {
		out.merge(t)
	}
	return out, nil
}

// partition splits cs into at most n contiguous, non-empty slices.
func partition(cs []claims.Claim, n int) [][]claims.Claim {
	if len(cs) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if n > len(cs) {
		n = len(cs)
	}

	size := (len(cs) + n - 1) / n
	parts := make([][]claims.Claim, 0, n)
	for start := 0; start < len(cs); start += size {
		end := start + size
		if end > len(cs) {
			end = len(cs)
		}
		parts = append(parts, cs[start:end])
	}
	return parts
}
