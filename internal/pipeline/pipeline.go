// Package pipeline runs a complete scenario sweep: index, both cost-limit
// stages, the combination driver and stage 3, streaming rows to a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/cpih"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/logging"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/scenario"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/telemetry"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

type StageProgressFn func(stage, message string)

type Options struct {
	Policy failure.Policy
	Logger *slog.Logger
	Tracer trace.Tracer
}

type Pipeline struct {
	index  cpih.Source
	sink   Sink
	policy failure.Policy
	logger *slog.Logger
	tracer trace.Tracer
}

func New(index cpih.Source, sink Sink, opts Options) *Pipeline {
	if opts.Policy == "" {
		opts.Policy = failure.Lenient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer("pricereview/pipeline")
	}
	return &Pipeline{index: index, sink: sink, policy: opts.Policy, logger: opts.Logger, tracer: opts.Tracer}
}

// run carries the state threaded through the stages of one Run.
type run struct {
	in       Inputs
	res      Result
	index    *cpih.Index
	stage1   []costlimit.Row
	stage2   []costlimit.Row
	summary  map[string]*summaryAcc
	progress StageProgressFn
}

func (p *Pipeline) Run(ctx context.Context, in Inputs) (Result, error) {
	return p.RunWithProgress(ctx, in, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, in Inputs, progress StageProgressFn) (Result, error) {
	r := &run{
		in: in,
		res: Result{Metadata: Metadata{
			RunID:     uuid.NewString(),
			StartedAt: time.Now().UTC(),
			Policy:    p.policy,
		}},
		summary:  map[string]*summaryAcc{},
		progress: progress,
	}
	ctx, span := p.tracer.Start(ctx, "pricereview.run", trace.WithAttributes(
		attribute.String("run_id", r.res.Metadata.RunID),
		attribute.String("policy", string(p.policy)),
	))
	defer span.End()

	if err := p.validate(in); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return r.res, err
	}

	for _, stage := range []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{StageIndex, p.runIndex},
		{StageOne, p.runStage1},
		{StageTwo, p.runStage2},
		{StageCombine, p.runCombine},
	} {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, r, stage.name, err, false), &StageError{Stage: stage.name, Err: err}
		}
		if err := p.traced(ctx, stage.name, r, stage.fn); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return p.fail(ctx, r, stage.name, err, false), &StageError{Stage: stage.name, Err: err}
		}
	}

	if err := p.sink.Begin(ctx, r.res.Metadata); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return p.finalize(r), &StageError{Stage: StageOutput, Err: err}
	}
	if err := p.traced(ctx, StageThree, r, p.runStage3); err != nil {
		stage := StageThree
		var se *StageError
		if errors.As(err, &se) {
			stage, err = se.Stage, se.Err
		}
		span.SetStatus(codes.Error, err.Error())
		return p.fail(ctx, r, stage, err, true), &StageError{Stage: stage, Err: err}
	}

	res := p.finalize(r)
	if err := p.sink.Finish(ctx, res.Metadata); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, &StageError{Stage: StageOutput, Err: err}
	}
	span.SetAttributes(attribute.Int("result_rows", res.Metadata.ResultRows))
	return res, nil
}

func (p *Pipeline) validate(in Inputs) error {
	if in.Stage1.Space.Len() == 0 || in.Stage2.Space.Len() == 0 {
		return failure.Validation("stage parameter grids must not be empty")
	}
	if in.Charges.Returns.Len() == 0 {
		return failure.Validation("rate of return range must not be empty")
	}
	return charges.ValidateSchedules(in.Charges.Schedules)
}

func (p *Pipeline) traced(ctx context.Context, stage string, r *run, fn func(context.Context, *run) error) error {
	ctx, span := p.tracer.Start(ctx, stage)
	defer span.End()
	start := time.Now()
	if err := fn(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.LogError(p.logger, "stage failed", err, slog.String("stage", stage), slog.String("run_id", r.res.Metadata.RunID))
		return err
	}
	r.res.Metadata.StagesExecuted = append(r.res.Metadata.StagesExecuted, stage)
	logging.LogOperation(p.logger, "stage complete",
		slog.String("stage", stage),
		slog.String("run_id", r.res.Metadata.RunID),
		logging.Since(start))
	return nil
}

func (p *Pipeline) runIndex(ctx context.Context, r *run) error {
	emit(r.progress, StageIndex, "Fetching reference index...")
	ix, err := p.index.Get(ctx)
	if err != nil {
		return err
	}
	if ix == nil {
		return failure.New(failure.CodeUpstreamUnavailable, "index source returned no index", cpih.ErrUpstreamUnavailable)
	}
	r.index = ix
	r.res.Index = ix.Ratios()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("fiscal_years", ix.Len()))
	return nil
}

func (p *Pipeline) runStage1(ctx context.Context, r *run) error {
	emit(r.progress, StageOne, "Stage 1: "+r.in.Stage1.Model.Name+" cost limits...")
	rows, err := costlimit.NewEngine(r.in.Stage1.Model, p.policy, p.logger).Run(r.in.Stage1.Data, r.in.Stage1.Space, r.index)
	if err != nil {
		return err
	}
	r.stage1 = rows
	r.res.Metadata.Stage1Rows = len(rows)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("rows", len(rows)))
	return nil
}

func (p *Pipeline) runStage2(ctx context.Context, r *run) error {
	emit(r.progress, StageTwo, "Stage 2: "+r.in.Stage2.Model.Name+" cost limits...")
	rows, err := costlimit.NewEngine(r.in.Stage2.Model, p.policy, p.logger).Run(r.in.Stage2.Data, r.in.Stage2.Space, r.index)
	if err != nil {
		return err
	}
	r.stage2 = rows
	r.res.Metadata.Stage2Rows = len(rows)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("rows", len(rows)))
	return nil
}

func (p *Pipeline) runCombine(ctx context.Context, r *run) error {
	r.res.Stage1Points = scenario.Points(r.stage1)
	r.res.Stage2Points = scenario.Points(r.stage2)
	r.res.Metadata.Combinations = len(r.res.Stage1Points) * len(r.res.Stage2Points)
	if r.res.Metadata.Combinations == 0 {
		return failure.Validation("no stage-1 or stage-2 rows survived; nothing to combine")
	}
	emit(r.progress, StageCombine, fmt.Sprintf("%d combinations", r.res.Metadata.Combinations))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("combinations", r.res.Metadata.Combinations))
	return nil
}

func (p *Pipeline) runStage3(ctx context.Context, r *run) error {
	engine := charges.NewEngine(p.policy, p.logger)
	if r.in.Charges.Unit != "" {
		engine.Unit = r.in.Charges.Unit
	}
	if r.in.Charges.DP > 0 {
		engine.DP = r.in.Charges.DP
	}
	returns := r.in.Charges.Returns.Values()

	return scenario.Each(r.stage1, r.stage2, func(n int, c scenario.Combined) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(r.progress, StageThree, fmt.Sprintf("simulation: %d", n))
		rows, err := engine.Run(c.Rows, r.in.Charges.Schedules, returns)
		if err != nil {
			return err
		}
		for i := range rows {
			rows[i].Stage1 = c.Stage1
			rows[i].Stage2 = c.Stage2
			r.observe(rows[i])
		}
		if err := p.sink.Write(ctx, rows); err != nil {
			return &StageError{Stage: StageOutput, Err: err}
		}
		r.res.Metadata.Completed = n
		r.res.Metadata.ResultRows += len(rows)
		return nil
	})
}

// fail finalizes a run that stopped in stage. When the sink has begun it is
// finished with the failure recorded.
func (p *Pipeline) fail(ctx context.Context, r *run, stage string, err error, begun bool) Result {
	r.res.Metadata.StageFailed = stage
	r.res.Metadata.FailureReason = err.Error()
	res := p.finalize(r)
	if begun {
		// The run error takes precedence over a failure to close the sink.
		if ferr := p.sink.Finish(context.WithoutCancel(ctx), res.Metadata); ferr != nil {
			logging.LogError(p.logger, "sink finish failed", ferr, slog.String("run_id", res.Metadata.RunID))
		}
	}
	return res
}

func (p *Pipeline) finalize(r *run) Result {
	r.res.Metadata.CompletedAt = time.Now().UTC()
	companies := make([]string, 0, len(r.summary))
	for c := range r.summary {
		companies = append(companies, c)
	}
	sort.Strings(companies)
	r.res.Companies = r.res.Companies[:0]
	for _, c := range companies {
		r.res.Companies = append(r.res.Companies, r.summary[c].result(c))
	}
	return r.res
}

type summaryAcc struct {
	rows      int
	nonFinite int
	n         int
	sum       float64
	min       float64
	max       float64
}

// observe accumulates customer charge rows only.
func (r *run) observe(row charges.ResultRow) {
	if row.SmoothFactor != nil || row.ItemNumber != row.Company+charges.DefaultChargeSuffix {
		return
	}
	acc := r.summary[row.Company]
	if acc == nil {
		acc = &summaryAcc{min: math.Inf(1), max: math.Inf(-1)}
		r.summary[row.Company] = acc
	}
	acc.rows++
	if !failure.IsFinite(row.Value) {
		acc.nonFinite++
		return
	}
	acc.n++
	acc.sum += row.Value
	acc.min = math.Min(acc.min, row.Value)
	acc.max = math.Max(acc.max, row.Value)
}

func (a *summaryAcc) result(company string) CompanySummary {
	s := CompanySummary{Company: company, Rows: a.rows, NonFinite: a.nonFinite}
	if a.n == 0 {
		s.MinCharge, s.MaxCharge, s.MeanCharge = math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.MinCharge, s.MaxCharge, s.MeanCharge = a.min, a.max, a.sum/float64(a.n)
	return s
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}
