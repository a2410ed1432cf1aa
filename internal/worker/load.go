package worker

import (
	"context"
	"fmt"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/gyeh/pharmacy-claims/internal/engine"
	"github.com/gyeh/pharmacy-claims/internal/ingest"
)

// Loaded is everything read for one run, ready for the engine.
type Loaded struct {
	Input      engine.Input
	Pharmacies ingest.LoadStats
	Claims     ingest.LoadStats // Duplicates counts claim ids replaced across files
	Reverts    ingest.LoadStats
}

// Load reads the pharmacy file, then every event file through p. The first
// failing file, in discovery order, aborts the load.
func (p *Pool) Load(ctx context.Context, in *ingest.Inputs) (*Loaded, error) {
	out := &Loaded{}

	sources := in.Events()
	tracker := p.manager().NewTracker(0, 1, in.Pharmacy.Name())
	tracker.SetStage("Loading pharmacies")
	pharmacies, stats, err := ingest.LoadPharmacies(in.Pharmacy, func(read, total int64) {
		tracker.SetProgress(read, total)
	})
	if err != nil {
		tracker.SetStage("Failed")
		tracker.Done()
		return nil, fmt.Errorf("load pharmacies: %w", err)
	}
	tracker.SetCounter("records", int64(stats.Valid))
	tracker.SetStage(fmt.Sprintf("Done (%d records)", stats.Valid))
	tracker.Done()
	out.Pharmacies = stats
	out.Input.Pharmacies = pharmacies

	results := p.Run(ctx, sources)

	var batches [][]claims.Claim
	for _, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("load %s: %w", r.Source.Path, r.Err)
		}
		switch r.Source.Kind {
		case claims.KindClaim:
			out.Claims.Add(r.Stats)
			batches = append(batches, r.Claims)
		case claims.KindRevert:
			out.Reverts.Add(r.Stats)
			out.Input.Reverts = append(out.Input.Reverts, r.Reverts...)
		}
	}

	merged, dups := ingest.MergeClaims(batches)
	out.Claims.Duplicates += dups
	out.Input.Claims = merged
	return out, nil
}
