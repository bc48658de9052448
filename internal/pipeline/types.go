package pipeline

import (
	"context"
	"time"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costdata"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/cpih"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/grid"
)

const (
	StageIndex   = "index"
	StageOne     = "stage_1"
	StageTwo     = "stage_2"
	StageCombine = "combine"
	StageThree   = "stage_3"
	StageOutput  = "output"
)

// StageSpec is one cost-limit stage: its model, input rows and grid.
type StageSpec struct {
	Model costlimit.Model
	Data  []costdata.Row
	Space grid.Space2
}

// ChargesSpec configures stage 3. An empty Unit or a DP below 1 uses
// charges.DefaultUnit and charges.DefaultDP.
type ChargesSpec struct {
	Schedules []charges.Schedule
	Returns   grid.Range
	Unit      string
	DP        int
}

type Inputs struct {
	Stage1  StageSpec
	Stage2  StageSpec
	Charges ChargesSpec
}

// Sink receives result rows as each combination completes. Finish is called
// exactly once after a successful Begin, with StageFailed set when the run
// did not complete.
type Sink interface {
	Begin(ctx context.Context, meta Metadata) error
	Write(ctx context.Context, rows []charges.ResultRow) error
	Finish(ctx context.Context, meta Metadata) error
}

type Metadata struct {
	RunID          string         `json:"run_id" db:"run_id"`
	StartedAt      time.Time      `json:"started_at" db:"started_at"`
	CompletedAt    time.Time      `json:"completed_at" db:"completed_at"`
	Policy         failure.Policy `json:"policy" db:"policy"`
	StagesExecuted []string       `json:"stages_executed"`
	StageFailed    string         `json:"stage_failed,omitempty" db:"stage_failed"`
	FailureReason  string         `json:"failure_reason,omitempty" db:"failure_reason"`
	Stage1Rows     int            `json:"stage1_rows" db:"stage1_rows"`
	Stage2Rows     int            `json:"stage2_rows" db:"stage2_rows"`
	Combinations   int            `json:"combinations" db:"combinations"`
	Completed      int            `json:"completed_combinations" db:"completed_combinations"`
	ResultRows     int            `json:"result_rows" db:"result_rows"`
}

// CompanySummary aggregates a company's customer charge rows over the run.
// Non-finite values are counted but excluded from the statistics.
type CompanySummary struct {
	Company    string  `json:"company"`
	Rows       int     `json:"rows"`
	NonFinite  int     `json:"non_finite"`
	MinCharge  float64 `json:"min_charge"`
	MaxCharge  float64 `json:"max_charge"`
	MeanCharge float64 `json:"mean_charge"`
}

type Result struct {
	Metadata     Metadata
	Index        []cpih.Ratio
	Stage1Points []costlimit.Point
	Stage2Points []costlimit.Point
	Companies    []CompanySummary
}
