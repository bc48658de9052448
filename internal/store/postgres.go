package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS price_review_runs (
	run_id                 TEXT PRIMARY KEY,
	started_at             TIMESTAMPTZ NOT NULL,
	completed_at           TIMESTAMPTZ,
	policy                 TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'running',
	stage_failed           TEXT NOT NULL DEFAULT '',
	failure_reason         TEXT NOT NULL DEFAULT '',
	stage1_rows            INTEGER NOT NULL DEFAULT 0,
	stage2_rows            INTEGER NOT NULL DEFAULT 0,
	combinations           INTEGER NOT NULL DEFAULT 0,
	completed_combinations INTEGER NOT NULL DEFAULT 0,
	result_rows            BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS price_review_results (
	run_id                TEXT NOT NULL REFERENCES price_review_runs (run_id),
	seq                   BIGINT NOT NULL,
	company               TEXT NOT NULL,
	item_number           TEXT NOT NULL,
	year                  TEXT NOT NULL,
	unit                  TEXT NOT NULL,
	dp                    INTEGER NOT NULL,
	value                 DOUBLE PRECISION,
	smooth_factor         DOUBLE PRECISION,
	scenario              TEXT NOT NULL DEFAULT '',
	company_return        DOUBLE PRECISION NOT NULL,
	stage1_efficiency     DOUBLE PRECISION NOT NULL,
	stage1_limit_increase DOUBLE PRECISION NOT NULL,
	stage2_efficiency     DOUBLE PRECISION NOT NULL,
	stage2_limit_increase DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

var copyColumns = []string{
	"run_id", "seq", "company", "item_number", "year", "unit", "dp", "value", "smooth_factor", "scenario",
	"company_return", "stage1_efficiency", "stage1_limit_increase", "stage2_efficiency", "stage2_limit_increase",
}

// Postgres bulk-loads result rows with COPY.
type Postgres struct {
	pool  *pgxpool.Pool
	runID string
	seq   int64
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Begin(ctx context.Context, meta pipeline.Metadata) error {
	p.runID = meta.RunID
	p.seq = 0
	_, err := p.pool.Exec(ctx,
		`INSERT INTO price_review_runs (run_id, started_at, policy, combinations, stage1_rows, stage2_rows) VALUES ($1, $2, $3, $4, $5, $6)`,
		meta.RunID, meta.StartedAt, string(meta.Policy), meta.Combinations, meta.Stage1Rows, meta.Stage2Rows)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (p *Postgres) Write(ctx context.Context, rows []charges.ResultRow) error {
	n, err := p.pool.CopyFrom(ctx, pgx.Identifier{"price_review_results"}, copyColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return copyValues(toRecord(p.runID, p.seq+int64(i)+1, rows[i])), nil
		}))
	if err != nil {
		return fmt.Errorf("copy result rows: %w", err)
	}
	p.seq += n
	return nil
}

func (p *Postgres) Finish(ctx context.Context, meta pipeline.Metadata) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE price_review_runs SET completed_at = $1, status = $2, stage_failed = $3, failure_reason = $4,
			completed_combinations = $5, result_rows = $6 WHERE run_id = $7`,
		meta.CompletedAt, runStatus(meta), meta.StageFailed, meta.FailureReason,
		meta.Completed, meta.ResultRows, meta.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// copyValues orders a record as copyColumns. NULL floats are nil.
func copyValues(rec record) []any {
	var value, factor any
	if rec.Value.Valid {
		value = rec.Value.Float64
	}
	if rec.SmoothFactor.Valid {
		factor = rec.SmoothFactor.Float64
	}
	return []any{
		rec.RunID, rec.Seq, rec.Company, rec.ItemNumber, rec.Year, rec.Unit, rec.DP, value, factor, rec.Scenario,
		rec.CompanyReturn, rec.Stage1Efficiency, rec.Stage1LimitIncrease, rec.Stage2Efficiency, rec.Stage2LimitIncrease,
	}
}
