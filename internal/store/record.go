// Package store writes stage-3 result rows to a TSV file, SQLite or
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
)

// Columns of the result table, in output order.
var Columns = []string{
	"company", "item number", "year", "unit", "dp", "value",
	"smooth_factor", "company_return", "scenario",
	"model1_efficiency", "model1_limit_lineincrease",
	"model2_efficiency", "model2_limit_lineincrease",
}

// record is a result row as stored in SQL. Non-finite values are NULL.
type record struct {
	RunID               string          `db:"run_id"`
	Seq                 int64           `db:"seq"`
	Company             string          `db:"company"`
	ItemNumber          string          `db:"item_number"`
	Year                string          `db:"year"`
	Unit                string          `db:"unit"`
	DP                  int             `db:"dp"`
	Value               sql.NullFloat64 `db:"value"`
	SmoothFactor        sql.NullFloat64 `db:"smooth_factor"`
	Scenario            string          `db:"scenario"`
	CompanyReturn       float64         `db:"company_return"`
	Stage1Efficiency    float64         `db:"stage1_efficiency"`
	Stage1LimitIncrease float64         `db:"stage1_limit_increase"`
	Stage2Efficiency    float64         `db:"stage2_efficiency"`
	Stage2LimitIncrease float64         `db:"stage2_limit_increase"`
}

func toRecord(runID string, seq int64, r charges.ResultRow) record {
	rec := record{
		RunID:               runID,
		Seq:                 seq,
		Company:             r.Company,
		ItemNumber:          r.ItemNumber,
		Year:                r.Year,
		Unit:                r.Unit,
		DP:                  r.DP,
		Value:               nullFloat(r.Value),
		Scenario:            r.Scenario,
		CompanyReturn:       r.CompanyReturn,
		Stage1Efficiency:    r.Stage1.Efficiency,
		Stage1LimitIncrease: r.Stage1.LimitIncrease,
		Stage2Efficiency:    r.Stage2.Efficiency,
		Stage2LimitIncrease: r.Stage2.LimitIncrease,
	}
	if r.SmoothFactor != nil {
		rec.SmoothFactor = nullFloat(*r.SmoothFactor)
	}
	return rec
}

func (rec record) resultRow() charges.ResultRow {
	r := charges.ResultRow{
		Company:       rec.Company,
		ItemNumber:    rec.ItemNumber,
		Year:          rec.Year,
		Unit:          rec.Unit,
		DP:            rec.DP,
		Value:         math.NaN(),
		Scenario:      rec.Scenario,
		CompanyReturn: rec.CompanyReturn,
	}
	if rec.Value.Valid {
		r.Value = rec.Value.Float64
	}
	if rec.SmoothFactor.Valid {
		f := rec.SmoothFactor.Float64
		r.SmoothFactor = &f
	}
	r.Stage1.Efficiency, r.Stage1.LimitIncrease = rec.Stage1Efficiency, rec.Stage1LimitIncrease
	r.Stage2.Efficiency, r.Stage2.LimitIncrease = rec.Stage2Efficiency, rec.Stage2LimitIncrease
	return r
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// runStatus is the status column of the runs table.
func runStatus(meta pipeline.Metadata) string {
	if meta.StageFailed != "" {
		return "failed"
	}
	return "complete"
}

// Tee fans every call out to each sink in order. Finish reaches every sink
// even when one fails, and a failed Begin finishes the sinks already begun.
type Tee []pipeline.Sink

func (t Tee) Begin(ctx context.Context, meta pipeline.Metadata) error {
	for i, s := range t {
		if err := s.Begin(ctx, meta); err != nil {
			failed := meta
			failed.StageFailed = pipeline.StageOutput
			failed.FailureReason = err.Error()
			for _, begun := range t[:i] {
				_ = begun.Finish(ctx, failed)
			}
			return err
		}
	}
	return nil
}

func (t Tee) Write(ctx context.Context, rows []charges.ResultRow) error {
	for _, s := range t {
		if err := s.Write(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Finish(ctx context.Context, meta pipeline.Metadata) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Finish(ctx, meta))
	}
	return errors.Join(errs...)
}
