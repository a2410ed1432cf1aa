package worker

import (
	"context"
	"fmt"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/gyeh/pharmacy-claims/internal/ingest"
	"github.com/gyeh/pharmacy-claims/internal/progress"
)

// LoadResult holds the records read from a single event file.
type LoadResult struct {
	Source  ingest.Source
	Claims  []claims.Claim
	Reverts []claims.Revert
	Stats   ingest.LoadStats
	Err     error
}

// LoadSource reads one claim or revert file, reporting bytes read to tracker.
func LoadSource(ctx context.Context, src ingest.Source, tracker progress.Tracker) *LoadResult {
	result := &LoadResult{Source: src}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	onProgress := func(read, total int64) { tracker.SetProgress(read, total) }

	switch src.Kind {
	case claims.KindClaim:
		tracker.SetStage("Loading claims")
		result.Claims, result.Stats, result.Err = ingest.LoadClaims(src, onProgress)
	case claims.KindRevert:
		tracker.SetStage("Loading reverts")
		result.Reverts, result.Stats, result.Err = ingest.LoadReverts(src, onProgress)
	default:
		result.Err = fmt.Errorf("%s: unsupported source kind %q", src.Path, src.Kind)
	}
	if result.Err != nil {
		tracker.SetStage("Failed")
		return result
	}

	tracker.SetCounter("records", int64(result.Stats.Valid))
	tracker.SetStage(fmt.Sprintf("Done (%d records)", result.Stats.Valid))
	return result
}
