package main

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/gyeh/pharmacy-claims/internal/cloud"
	"github.com/gyeh/pharmacy-claims/internal/config"
	"github.com/gyeh/pharmacy-claims/internal/engine"
	"github.com/gyeh/pharmacy-claims/internal/ingest"
	"github.com/gyeh/pharmacy-claims/internal/output"
	"github.com/gyeh/pharmacy-claims/internal/progress"
	"github.com/gyeh/pharmacy-claims/internal/store"
	"github.com/gyeh/pharmacy-claims/internal/worker"
	"github.com/rs/zerolog"
)

// runResult is what a completed run produced.
type runResult struct {
	Loaded  *worker.Loaded
	Reports *engine.Reports
	Paths   []string
	S3Keys  []string
}

// runReports loads inputs, runs the engine, and writes the reports. Nothing
// is written unless every input loads and every reducer succeeds.
func runReports(ctx context.Context, cfg *config.Config, runID string, logger zerolog.Logger, mgr progress.Manager) (*runResult, error) {
	start := time.Now()

	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	loaded, err := loadInputs(ctx, cfg, logger, mgr)
	if err != nil {
		return nil, err
	}

	reports, err := engine.Run(ctx, loaded.Input, engine.Options{Shards: cfg.Shards, TopN: cfg.TopN})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	logIndex(logger, reports.Index, reports.DanglingReverts)

	paths, err := output.Write(cfg.OutputDir, format, reports)
	if err != nil {
		return nil, fmt.Errorf("writing reports: %w", err)
	}
	for _, p := range paths {
		logger.Info().Str("path", p).Msg("wrote report")
	}

	res := &runResult{Loaded: loaded, Reports: reports, Paths: paths}

	if cfg.S3Bucket != "" {
		client, err := cloud.NewS3Client(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			return res, err
		}
		keys, err := client.UploadReports(ctx, path.Join(cfg.S3Prefix, runID), paths)
		if err != nil {
			return res, err
		}
		res.S3Keys = keys
		logger.Info().Str("bucket", client.Bucket()).Strs("keys", keys).Msg("uploaded reports")
	}

	if cfg.DatabaseURL != "" {
		if err := saveToDatabase(ctx, cfg.DatabaseURL, runID, reports); err != nil {
			return res, err
		}
		logger.Info().Msg("stored reports in database")
	}

	logger.Info().
		Int("claims", reports.Claims).
		Int("metrics", len(reports.Metrics)).
		Int("chain_rankings", len(reports.TopChains)).
		Int("quantity_modes", len(reports.QuantityModes)).
		Dur("elapsed", time.Since(start)).
		Msg("run complete")
	return res, nil
}

// inspectInputs loads inputs and reports what the join index would see.
func inspectInputs(ctx context.Context, cfg *config.Config, logger zerolog.Logger, mgr progress.Manager) (*worker.Loaded, error) {
	loaded, err := loadInputs(ctx, cfg, logger, mgr)
	if err != nil {
		return nil, err
	}
	idx := engine.BuildIndex(loaded.Input.Pharmacies, loaded.Input.Reverts)
	logIndex(logger, idx.Stats(), idx.DanglingReverts(loaded.Input.Claims))
	return loaded, nil
}

func loadInputs(ctx context.Context, cfg *config.Config, logger zerolog.Logger, mgr progress.Manager) (*worker.Loaded, error) {
	in, err := ingest.Discover(cfg.PharmacyDirs, cfg.ClaimsDirs, cfg.RevertsDirs)
	if err != nil {
		return nil, fmt.Errorf("discovering inputs: %w", err)
	}
	logger.Info().
		Str("pharmacy_file", in.Pharmacy.Path).
		Int("claim_files", len(in.Claims)).
		Int("revert_files", len(in.Reverts)).
		Msg("discovered inputs")

	pool := &worker.Pool{Workers: cfg.Workers, Progress: mgr}
	loaded, err := pool.Load(ctx, in)
	mgr.Wait()
	if err != nil {
		return nil, err
	}

	logStats(logger, "pharmacies", loaded.Pharmacies)
	logStats(logger, "claims", loaded.Claims)
	logStats(logger, "reverts", loaded.Reverts)
	return loaded, nil
}

func saveToDatabase(ctx context.Context, url, runID string, reports *engine.Reports) error {
	db, err := store.Open(ctx, url)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return db.SaveReports(ctx, runID, reports)
}

func logStats(logger zerolog.Logger, kind string, s ingest.LoadStats) {
	logger.Info().
		Str("kind", kind).
		Int("files", s.Files).
		Int("rows", s.Rows).
		Int("valid", s.Valid).
		Int("skipped", s.Skipped).
		Int("duplicates", s.Duplicates).
		Msg("loaded")
}

func logIndex(logger zerolog.Logger, s engine.IndexStats, dangling int) {
	ev := logger.Info()
	if dangling > 0 || s.DuplicatePharmacies > 0 {
		ev = logger.Warn()
	}
	ev.Int("pharmacies", s.Pharmacies).
		Int("duplicate_pharmacies", s.DuplicatePharmacies).
		Int("reverts", s.Reverts).
		Int("reverted_claims", s.RevertedClaims).
		Int("dangling_reverts", dangling).
		Msg("join index")
}
