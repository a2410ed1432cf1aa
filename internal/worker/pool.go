package worker

import (
	"context"
	"sync"

	"github.com/gyeh/pharmacy-claims/internal/ingest"
	"github.com/gyeh/pharmacy-claims/internal/progress"
)

// Pool loads claim and revert files concurrently.
type Pool struct {
	Workers  int
	Progress progress.Manager
}

// Run loads all sources concurrently and returns one result per source, in
// the order given.
func (p *Pool) Run(ctx context.Context, sources []ingest.Source) []LoadResult {
	results := make([]LoadResult, len(sources))

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	mgr := p.manager()

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s ingest.Source) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = LoadResult{Source: s, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			tracker := mgr.NewTracker(idx, len(sources), s.Name())
			results[idx] = *LoadSource(ctx, s, tracker)
			tracker.Done()
		}(i, src)
	}

	wg.Wait()
	return results
}

func (p *Pool) manager() progress.Manager {
	if p.Progress == nil {
		return &progress.NoopManager{}
	}
	return p.Progress
}
