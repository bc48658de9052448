package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/config"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costdata"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/cpih"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/logging"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/report"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/store"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/telemetry"
)

var version = "dev"

type flags struct {
	configs   string
	model1    string
	model2    string
	sheet     string
	indexFile string
	out       string
	db        string
	pg        string
	report    string
	pdf       string
	narrate   bool
	policy    string
	logLevel  string
	logFormat string
	dryRun    bool
}

func parseFlags(args []string, stderr io.Writer) (flags, map[string]bool, error) {
	var f flags
	fs := flag.NewFlagSet("pricereview", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configs, "config", "", "Comma-separated TOML or YAML config files, later files win")
	fs.StringVar(&f.model1, "model1", "", "Stage 1 input workbook (.xlsx or .csv)")
	fs.StringVar(&f.model2, "model2", "", "Stage 2 input workbook (.xlsx or .csv)")
	fs.StringVar(&f.sheet, "sheet", "", "Worksheet holding the input rows")
	fs.StringVar(&f.indexFile, "index-file", "", "Read the CPIH series from a downloaded ONS CSV instead of fetching it")
	fs.StringVar(&f.out, "out", "", "Result TSV path, - for stdout")
	fs.StringVar(&f.db, "db", "", "SQLite database to record the run in")
	fs.StringVar(&f.pg, "pg", "", "Postgres DSN to record the run in")
	fs.StringVar(&f.report, "report", "", "Run summary path (.md or .html)")
	fs.StringVar(&f.pdf, "pdf", "", "Run summary PDF path (requires Chromium)")
	fs.BoolVar(&f.narrate, "narrate", false, "Add model-written commentary to the summary (requires ANTHROPIC_API_KEY)")
	fs.StringVar(&f.policy, "policy", "", "Failure policy: lenient or strict")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: json or text")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Validate the configuration and print the run size without running")
	if err := fs.Parse(args); err != nil {
		return f, nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// apply overrides cfg with every flag given on the command line.
func (f flags) apply(cfg *config.Config, set map[string]bool) {
	overrides := []struct {
		name string
		val  string
		dst  *string
	}{
		{"model1", f.model1, &cfg.Input.Model1},
		{"model2", f.model2, &cfg.Input.Model2},
		{"sheet", f.sheet, &cfg.Input.Sheet},
		{"index-file", f.indexFile, &cfg.Index.File},
		{"out", f.out, &cfg.Output.TSV},
		{"db", f.db, &cfg.Output.SQLite},
		{"pg", f.pg, &cfg.Output.Postgres},
		{"report", f.report, &cfg.Report.Path},
		{"pdf", f.pdf, &cfg.Report.PDF},
		{"policy", f.policy, &cfg.Policy},
		{"log-level", f.logLevel, &cfg.Log.Level},
		{"log-format", f.logFormat, &cfg.Log.Format},
	}
	for _, o := range overrides {
		if set[o.name] {
			*o.dst = o.val
		}
	}
	if set["narrate"] {
		cfg.Report.Narrate = f.narrate
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "pricereview: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return failure.ExitCode(err)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, set, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return failure.Validation(err.Error())
	}

	cfg, err := config.Load(splitList(f.configs)...)
	if err != nil {
		return err
	}
	f.apply(cfg, set)
	if err := cfg.Validate(); err != nil {
		return err
	}
	policy, err := failure.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return failure.Validation(err.Error())
	}
	logger := logging.New(stderr, level, cfg.Log.Format)
	slog.SetDefault(logger)

	if f.dryRun {
		fmt.Fprintf(stdout, "stage 1 points: %d\nstage 2 points: %d\ncombinations: %d\nrates of return: %d\nschedules: %d\n",
			cfg.Stage1.Space().Len(), cfg.Stage2.Space().Len(), cfg.Combinations(),
			cfg.Charges.Returns.Len(), len(cfg.Charges.Schedules))
		return nil
	}

	shutdown, err := telemetry.Setup(ctx, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logging.LogError(logger, "telemetry shutdown", err)
		}
	}()

	start := time.Now()
	data1, err := costdata.Read(cfg.Input.Model1, cfg.Input.Sheet)
	if err != nil {
		return fmt.Errorf("read %s: %w", cfg.Input.Model1, err)
	}
	data2, err := costdata.Read(cfg.Input.Model2, cfg.Input.Sheet)
	if err != nil {
		return fmt.Errorf("read %s: %w", cfg.Input.Model2, err)
	}
	logging.LogOperation(logger, "inputs loaded",
		slog.Int("stage1_rows", len(data1)),
		slog.Int("stage2_rows", len(data2)),
		logging.Since(start))

	sinks, closeSinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	p := pipeline.New(indexSource(cfg, logger), sinks, pipeline.Options{Policy: policy, Logger: logger})
	in := pipeline.Inputs{
		Stage1: pipeline.StageSpec{Model: cfg.Stage1.Model, Data: data1, Space: cfg.Stage1.Space()},
		Stage2: pipeline.StageSpec{Model: cfg.Stage2.Model, Data: data2, Space: cfg.Stage2.Space()},
		Charges: pipeline.ChargesSpec{
			Schedules: cfg.Charges.Schedules,
			Returns:   cfg.Charges.Returns,
			Unit:      cfg.Charges.Unit,
			DP:        cfg.Charges.DP,
		},
	}
	logger.Info("run starting",
		slog.String("policy", string(policy)),
		slog.Int("combinations", cfg.Combinations()))

	res, runErr := p.RunWithProgress(ctx, in, progressLogger(logger, cfg.Combinations()))
	logging.LogOperation(logger, "run finished",
		slog.String("run_id", res.Metadata.RunID),
		slog.Int("completed", res.Metadata.Completed),
		slog.Int("result_rows", res.Metadata.ResultRows),
		logging.Since(start))

	if err := writeReports(ctx, cfg, res, logger); err != nil {
		if runErr == nil {
			return err
		}
		logging.LogError(logger, "report", err)
	}
	return runErr
}

func indexSource(cfg *config.Config, logger *slog.Logger) cpih.Source {
	if cfg.Index.File != "" {
		return cpih.FileSource{Path: cfg.Index.File, Options: cfg.Index.Window}
	}
	return cpih.NewProvider(cpih.Config{
		URL:       cfg.Index.URL,
		UserAgent: cfg.Index.UserAgent,
		Options:   cfg.Index.Window,
		Logger:    logger,
	})
}

func openSinks(ctx context.Context, cfg *config.Config) (store.Tee, func(), error) {
	var (
		tee     store.Tee
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if cfg.Output.TSV != "" {
		tee = append(tee, store.NewTSV(cfg.Output.TSV))
	}
	if cfg.Output.SQLite != "" {
		db, err := store.NewSQLite(cfg.Output.SQLite)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Output.SQLite, err)
		}
		tee = append(tee, db)
		closers = append(closers, func() { _ = db.Close() })
	}
	if cfg.Output.Postgres != "" {
		pg, err := store.NewPostgres(ctx, cfg.Output.Postgres)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		tee = append(tee, pg)
		closers = append(closers, pg.Close)
	}
	return tee, closeAll, nil
}

// progressLogger logs stage transitions and roughly every tenth of the
// combinations.
func progressLogger(logger *slog.Logger, total int) pipeline.StageProgressFn {
	every := total / 10
	if every < 1 {
		every = 1
	}
	n := 0
	return func(stage, message string) {
		if stage != pipeline.StageThree {
			logger.Info("stage", slog.String("stage", stage), slog.String("message", message))
			return
		}
		n++
		if n%every == 0 || n == total {
			logger.Info("progress", slog.String("stage", stage), slog.Int("done", n), slog.Int("total", total))
		}
	}
}

func writeReports(ctx context.Context, cfg *config.Config, res pipeline.Result, logger *slog.Logger) error {
	if cfg.Report.Path == "" && cfg.Report.PDF == "" {
		return nil
	}
	ids := make([]string, 0, len(cfg.Charges.Schedules))
	for _, s := range cfg.Charges.Schedules {
		ids = append(ids, s.ID)
	}
	params := report.Params{
		Stage1Name: cfg.Stage1.Model.Name,
		Stage1:     cfg.Stage1.Space(),
		Stage2Name: cfg.Stage2.Model.Name,
		Stage2:     cfg.Stage2.Space(),
		Returns:    cfg.Charges.Returns,
		Schedules:  ids,
		Unit:       cfg.Charges.Unit,
		DP:         cfg.Charges.DP,
	}

	if cfg.Report.Narrate {
		n, err := report.NewAnthropicNarratorFromEnv(cfg.Report.Model)
		if err != nil {
			logging.LogError(logger, "narrator unavailable", err)
		} else if text, err := n.Narrate(ctx, report.Markdown(res, params)); err != nil {
			logging.LogError(logger, "narration failed", err)
		} else {
			params.Commentary = text
		}
	}

	md := report.Markdown(res, params)
	if cfg.Report.Path != "" {
		if err := report.WriteFile(cfg.Report.Path, md); err != nil {
			return fmt.Errorf("write report %s: %w", cfg.Report.Path, err)
		}
		logger.Info("report written", slog.String("path", cfg.Report.Path))
	}
	if cfg.Report.PDF != "" {
		if err := report.NewPDFRenderer().WriteFile(ctx, cfg.Report.PDF, md); err != nil {
			return fmt.Errorf("write pdf %s: %w", cfg.Report.PDF, err)
		}
		logger.Info("pdf written", slog.String("path", cfg.Report.PDF))
	}
	return nil
}
