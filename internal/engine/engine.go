// Package engine joins claims to reverts and pharmacies and reduces them into
// the three pharmacy-claims reports. Every function here is a pure function of
// its inputs; nothing is cached between calls.
package engine

import (
	"context"
	"fmt"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"golang.org/x/sync/errgroup"
)

// DefaultTopN is the number of chains kept per drug by RankChains.
const DefaultTopN = 2

// Options tunes how the reducers run. The zero value is valid.
type Options struct {
	// Shards splits each reducer's pass over the claims across this many
	// goroutines. Values below 1 mean a single pass.
	Shards int
	// TopN is the number of chains kept per drug. Values below 1 mean DefaultTopN.
	TopN int
}

func (o Options) withDefaults() Options {
	if o.Shards < 1 {
		o.Shards = 1
	}
	if o.TopN < 1 {
		o.TopN = DefaultTopN
	}
	return o
}

// Input is one immutable snapshot of normalized records.
type Input struct {
	Pharmacies []claims.Pharmacy
	Claims     []claims.Claim
	Reverts    []claims.Revert
}

// Reports holds the output of one run.
type Reports struct {
	Metrics       []claims.MetricsRecord
	TopChains     []claims.ChainRankRecord
	QuantityModes []claims.QuantityModeRecord

	Claims          int
	Index           IndexStats
	DanglingReverts int
}

// Run builds the join index and runs the three reducers concurrently. If any
// reducer fails the run fails and no reports are returned.
func Run(ctx context.Context, in Input, opts Options) (*Reports, error) {
	opts = opts.withDefaults()
	idx := BuildIndex(in.Pharmacies, in.Reverts)

	r := &Reports{
		Claims: len(in.Claims),
		Index:  idx.Stats(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := ComputeMetrics(gctx, in.Claims, idx, opts)
		if err != nil {
			return fmt.Errorf("metrics by npi/ndc: %w", err)
		}
		r.Metrics = m
		return nil
	})
	g.Go(func() error {
		c, err := RankChains(gctx, in.Claims, idx, opts)
		if err != nil {
			return fmt.Errorf("chain ranking: %w", err)
		}
		r.TopChains = c
		return nil
	})
	g.Go(func() error {
		q, err := QuantityModes(gctx, in.Claims, opts)
		if err != nil {
			return fmt.Errorf("quantity modes: %w", err)
		}
		r.QuantityModes = q
		return nil
	})
	g.Go(func() error {
		r.DanglingReverts = idx.DanglingReverts(in.Claims)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}
