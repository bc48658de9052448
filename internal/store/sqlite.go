package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id                 TEXT PRIMARY KEY,
	started_at             TEXT NOT NULL,
	completed_at           TEXT NOT NULL DEFAULT '',
	policy                 TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'running',
	stage_failed           TEXT NOT NULL DEFAULT '',
	failure_reason         TEXT NOT NULL DEFAULT '',
	stage1_rows            INTEGER NOT NULL DEFAULT 0,
	stage2_rows            INTEGER NOT NULL DEFAULT 0,
	combinations           INTEGER NOT NULL DEFAULT 0,
	completed_combinations INTEGER NOT NULL DEFAULT 0,
	result_rows            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS result_rows (
	run_id                TEXT NOT NULL,
	seq                   INTEGER NOT NULL,
	company               TEXT NOT NULL,
	item_number           TEXT NOT NULL,
	year                  TEXT NOT NULL,
	unit                  TEXT NOT NULL,
	dp                    INTEGER NOT NULL,
	value                 REAL,
	smooth_factor         REAL,
	scenario              TEXT NOT NULL DEFAULT '',
	company_return        REAL NOT NULL,
	stage1_efficiency     REAL NOT NULL,
	stage1_limit_increase REAL NOT NULL,
	stage2_efficiency     REAL NOT NULL,
	stage2_limit_increase REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS result_rows_company ON result_rows (run_id, company, item_number);
`

const insertResultRow = `INSERT INTO result_rows (
	run_id, seq, company, item_number, year, unit, dp, value, smooth_factor, scenario,
	company_return, stage1_efficiency, stage1_limit_increase, stage2_efficiency, stage2_limit_increase
) VALUES (
	:run_id, :seq, :company, :item_number, :year, :unit, :dp, :value, :smooth_factor, :scenario,
	:company_return, :stage1_efficiency, :stage1_limit_increase, :stage2_efficiency, :stage2_limit_increase
)`

// SQLite records runs and their result rows. Each Write is one transaction.
type SQLite struct {
	db    *sqlx.DB
	runID string
	seq   int64
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Begin(ctx context.Context, meta pipeline.Metadata) error {
	s.runID = meta.RunID
	s.seq = 0
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, policy, combinations, stage1_rows, stage2_rows) VALUES (?, ?, ?, ?, ?, ?)`,
		meta.RunID, meta.StartedAt.Format(time.RFC3339Nano), string(meta.Policy), meta.Combinations, meta.Stage1Rows, meta.Stage2Rows)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLite) Write(ctx context.Context, rows []charges.ResultRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertResultRow)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	seq := s.seq
	for _, r := range rows {
		seq++
		if _, err := stmt.ExecContext(ctx, toRecord(s.runID, seq, r)); err != nil {
			return fmt.Errorf("insert result row %d: %w", seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.seq = seq
	return nil
}

func (s *SQLite) Finish(ctx context.Context, meta pipeline.Metadata) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = ?, status = ?, stage_failed = ?, failure_reason = ?,
			completed_combinations = ?, result_rows = ? WHERE run_id = ?`,
		meta.CompletedAt.Format(time.RFC3339Nano), runStatus(meta), meta.StageFailed, meta.FailureReason,
		meta.Completed, meta.ResultRows, meta.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID         string `db:"run_id"`
	StartedAt     string `db:"started_at"`
	CompletedAt   string `db:"completed_at"`
	Policy        string `db:"policy"`
	Status        string `db:"status"`
	StageFailed   string `db:"stage_failed"`
	FailureReason string `db:"failure_reason"`
	Stage1Rows    int    `db:"stage1_rows"`
	Stage2Rows    int    `db:"stage2_rows"`
	Combinations  int    `db:"combinations"`
	Completed     int    `db:"completed_combinations"`
	ResultRows    int    `db:"result_rows"`
}

func (s *SQLite) Run(ctx context.Context, runID string) (RunRecord, error) {
	var r RunRecord
	err := s.db.GetContext(ctx, &r, `SELECT * FROM runs WHERE run_id = ?`, runID)
	return r, err
}

// ResultRows reads a run's rows back in write order. NULL values read as
// NaN.
func (s *SQLite) ResultRows(ctx context.Context, runID string) ([]charges.ResultRow, error) {
	var recs []record
	if err := s.db.SelectContext(ctx, &recs, `SELECT * FROM result_rows WHERE run_id = ? ORDER BY seq`, runID); err != nil {
		return nil, err
	}
	out := make([]charges.ResultRow, len(recs))
	for i, rec := range recs {
		out[i] = rec.resultRow()
	}
	return out, nil
}
