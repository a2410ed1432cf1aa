// Package store persists run reports to PostgreSQL.
package store

import (
	"context"
	"fmt"

	"github.com/gyeh/pharmacy-claims/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema is the DDL for the report tables. It is safe to execute multiple
// times.
const Schema = `
CREATE TABLE IF NOT EXISTS claim_runs (
    run_id           TEXT PRIMARY KEY,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    claims           INTEGER NOT NULL,
    pharmacies       INTEGER NOT NULL,
    reverts          INTEGER NOT NULL,
    dangling_reverts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS claim_metrics (
    run_id      TEXT NOT NULL REFERENCES claim_runs (run_id) ON DELETE CASCADE,
    npi         TEXT NOT NULL,
    ndc         TEXT NOT NULL,
    fills       INTEGER NOT NULL,
    reverted    INTEGER NOT NULL,
    avg_price   NUMERIC NOT NULL,
    total_price NUMERIC NOT NULL,
    PRIMARY KEY (run_id, npi, ndc)
);

CREATE TABLE IF NOT EXISTS claim_chain_ranks (
    run_id    TEXT NOT NULL REFERENCES claim_runs (run_id) ON DELETE CASCADE,
    ndc       TEXT NOT NULL,
    rank      INTEGER NOT NULL,
    chain     TEXT NOT NULL,
    avg_price NUMERIC NOT NULL,
    PRIMARY KEY (run_id, ndc, rank)
);

CREATE TABLE IF NOT EXISTS claim_quantity_modes (
    run_id     TEXT NOT NULL REFERENCES claim_runs (run_id) ON DELETE CASCADE,
    ndc        TEXT NOT NULL,
    quantities BIGINT[] NOT NULL,
    PRIMARY KEY (run_id, ndc)
);
`

var (
	metricsColumns  = []string{"run_id", "npi", "ndc", "fills", "reverted", "avg_price", "total_price"}
	chainColumns    = []string{"run_id", "ndc", "rank", "chain", "avg_price"}
	quantityColumns = []string{"run_id", "ndc", "quantities"}
)

// Postgres writes reports through a connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Migrate creates the report tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveReports stores r under runID in one transaction. Report rows are bulk
// loaded with COPY.
func (p *Postgres) SaveReports(ctx context.Context, runID string, r *engine.Reports) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertRun = `INSERT INTO claim_runs (run_id, claims, pharmacies, reverts, dangling_reverts)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insertRun, runID, r.Claims, r.Index.Pharmacies, r.Index.Reverts, r.DanglingReverts); err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}

	copies := []struct {
		table   string
		columns []string
		rows    [][]any
	}{
		{"claim_metrics", metricsColumns, metricsRows(runID, r)},
		{"claim_chain_ranks", chainColumns, chainRows(runID, r)},
		{"claim_quantity_modes", quantityColumns, quantityRows(runID, r)},
	}
	for _, c := range copies {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows))
		if err != nil {
			return fmt.Errorf("copy %s: %w", c.table, err)
		}
		if int(n) != len(c.rows) {
			return fmt.Errorf("copy %s: wrote %d of %d rows", c.table, n, len(c.rows))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// toNumeric converts d, rounded to cents, to a NUMERIC value without going
// through float64.
func toNumeric(d decimal.Decimal) pgtype.Numeric {
	d = d.Round(2)
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func metricsRows(runID string, r *engine.Reports) [][]any {
	rows := make([][]any, 0, len(r.Metrics))
	for _, m := range r.Metrics {
		rows = append(rows, []any{runID, m.NPI, m.NDC, int32(m.Fills), int32(m.Reverted), toNumeric(m.AvgPrice), toNumeric(m.TotalPrice)})
	}
	return rows
}

func chainRows(runID string, r *engine.Reports) [][]any {
	var rows [][]any
	for _, rec := range r.TopChains {
		for i, c := range rec.Chains {
			rows = append(rows, []any{runID, rec.NDC, int32(i + 1), c.Name, toNumeric(c.AvgPrice)})
		}
	}
	return rows
}

func quantityRows(runID string, r *engine.Reports) [][]any {
	rows := make([][]any, 0, len(r.QuantityModes))
	for _, q := range r.QuantityModes {
		qs := q.Quantities
		if qs == nil {
			qs = []int64{}
		}
		rows = append(rows, []any{runID, q.NDC, qs})
	}
	return rows
}
