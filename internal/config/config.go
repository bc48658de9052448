// Package config assembles the run configuration from defaults, TOML or YAML
// files, a .env file and PRICEREVIEW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/cpih"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/grid"
)

const EnvPrefix = "PRICEREVIEW_"

type Config struct {
	Policy  string        `toml:"policy" yaml:"policy" validate:"omitempty,oneof=lenient strict"`
	Index   IndexConfig   `toml:"index" yaml:"index"`
	Input   InputConfig   `toml:"input" yaml:"input"`
	Stage1  StageConfig   `toml:"stage1" yaml:"stage1"`
	Stage2  StageConfig   `toml:"stage2" yaml:"stage2"`
	Charges ChargesConfig `toml:"charges" yaml:"charges"`
	Output  OutputConfig  `toml:"output" yaml:"output"`
	Report  ReportConfig  `toml:"report" yaml:"report"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

type IndexConfig struct {
	URL       string       `toml:"url" yaml:"url" validate:"omitempty,url"`
	UserAgent string       `toml:"user_agent" yaml:"user_agent"`
	File      string       `toml:"file" yaml:"file"`
	Window    cpih.Options `toml:"window" yaml:"window"`
}

type InputConfig struct {
	Model1 string `toml:"model1" yaml:"model1"`
	Model2 string `toml:"model2" yaml:"model2"`
	Sheet  string `toml:"sheet" yaml:"sheet"`
}

// StageConfig is one cost-limit stage: its model and its parameter ranges.
type StageConfig struct {
	Model      costlimit.Model `toml:"model" yaml:"model"`
	Efficiency grid.Range      `toml:"efficiency" yaml:"efficiency"`
	Limit      grid.Range      `toml:"limit" yaml:"limit"`
}

func (s StageConfig) Space() grid.Space2 {
	return grid.Space2{First: s.Efficiency, Second: s.Limit}
}

type ChargesConfig struct {
	Returns   grid.Range         `toml:"returns" yaml:"returns"`
	Schedules []charges.Schedule `toml:"schedules" yaml:"schedules" validate:"dive"`
	Unit      string             `toml:"unit" yaml:"unit" validate:"required"`
	DP        int                `toml:"dp" yaml:"dp" validate:"gt=0"`
}

type OutputConfig struct {
	TSV      string `toml:"tsv" yaml:"tsv"`
	SQLite   string `toml:"sqlite" yaml:"sqlite"`
	Postgres string `toml:"postgres" yaml:"postgres"`
}

type ReportConfig struct {
	Path    string `toml:"path" yaml:"path"`
	PDF     string `toml:"pdf" yaml:"pdf"`
	Narrate bool   `toml:"narrate" yaml:"narrate"`
	Model   string `toml:"model" yaml:"model"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `toml:"format" yaml:"format" validate:"omitempty,oneof=json text"`
}

func schedule(id string, f ...float64) charges.Schedule {
	years := []string{"2025-26", "2026-27", "2027-28", "2028-29", "2029-30"}
	m := make(map[string]float64, len(years))
	for i, y := range years {
		m[y] = f[i]
	}
	return charges.Schedule{ID: id, Factors: m}
}

// Default reproduces the reference run: both stages, four smoothing
// schedules and a 0.08 to 0.12 rate-of-return sweep.
func Default() *Config {
	return &Config{
		Policy: string(failure.Lenient),
		Index: IndexConfig{
			URL:       cpih.DefaultURL,
			UserAgent: cpih.DefaultUserAgent,
			Window:    cpih.DefaultOptions(),
		},
		Input: InputConfig{
			Model1: "model1.xlsx",
			Model2: "model2.xlsx",
			Sheet:  "input Data",
		},
		Stage1: StageConfig{
			Model:      costlimit.DefaultModel1(),
			Efficiency: grid.Range{Start: 0.970, Stop: 0.991, Step: 0.001},
			Limit:      grid.Range{Start: 1.190, Stop: 1.211, Step: 0.001},
		},
		Stage2: StageConfig{
			Model:      costlimit.DefaultModel2(),
			Efficiency: grid.Range{Start: 0.74, Stop: 0.76, Step: 0.001},
			Limit:      grid.Range{Start: 1.110, Stop: 1.130, Step: 0.001},
		},
		Charges: ChargesConfig{
			Returns: grid.Range{Start: 0.08, Stop: 0.12, Step: 0.001},
			Schedules: []charges.Schedule{
				schedule("1", 0.95, 0.975, 1, 1.025, 1.05),
				schedule("2", 0.96, 0.98, 1, 1.02, 1.04),
				schedule("3", 0.97, 0.985, 1, 1.015, 1.03),
				schedule("4", 0.98, 0.99, 1, 1.01, 1.02),
			},
			Unit: charges.DefaultUnit,
			DP:   charges.DefaultDP,
		},
		Output: OutputConfig{TSV: "model3_output.txt"},
		Report: ReportConfig{Model: "claude-sonnet-4-20250514"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load starts from Default, merges each file in order (later files win), then
// applies a .env file in the working directory and PRICEREVIEW_* variables.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for i, path := range paths {
		if path == "" {
			continue
		}
		if err := mergeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var decode func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		decode = toml.Unmarshal
	case ".yaml", ".yml":
		decode = yaml.Unmarshal
	default:
		return failure.Validation("unsupported config format " + filepath.Ext(path))
	}

	// Lists in a file replace the defaults rather than extending them.
	var probe Config
	if err := decode(data, &probe); err != nil {
		return err
	}
	resetLists(cfg, &probe)
	return decode(data, cfg)
}

func resetLists(cfg, probe *Config) {
	if probe.Charges.Schedules != nil {
		cfg.Charges.Schedules = nil
	}
	for _, pair := range []struct{ dst, src *costlimit.Model }{
		{&cfg.Stage1.Model, &probe.Stage1.Model},
		{&cfg.Stage2.Model, &probe.Stage2.Model},
	} {
		if pair.src.ActualItems != nil {
			pair.dst.ActualItems = nil
		}
		if pair.src.PlanItems != nil {
			pair.dst.PlanItems = nil
		}
		if pair.src.ActualExcludedYears != nil {
			pair.dst.ActualExcludedYears = nil
		}
		if pair.src.PlanExcludedYears != nil {
			pair.dst.PlanExcludedYears = nil
		}
	}
}

// LoadEnvFile loads path into the process environment without overriding
// variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("POLICY", &cfg.Policy)
	str("INDEX_URL", &cfg.Index.URL)
	str("INDEX_FILE", &cfg.Index.File)
	str("MODEL1", &cfg.Input.Model1)
	str("MODEL2", &cfg.Input.Model2)
	str("SHEET", &cfg.Input.Sheet)
	str("OUT", &cfg.Output.TSV)
	str("DB", &cfg.Output.SQLite)
	str("REPORT", &cfg.Report.Path)
	str("REPORT_MODEL", &cfg.Report.Model)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Output.Postgres = v
	}
	str("PG", &cfg.Output.Postgres)

	if v := os.Getenv(EnvPrefix + "INFLATION_YEAR"); v != "" {
		cfg.Stage1.Model.InflationYear = v
		cfg.Stage2.Model.InflationYear = v
	}
	if v := os.Getenv(EnvPrefix + "NARRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return failure.Validation(fmt.Sprintf("%sNARRATE=%q is not a boolean", EnvPrefix, v))
		}
		cfg.Report.Narrate = b
	}
	return nil
}

// Validate checks struct tags and the cross-field rules of a run.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return failure.New(failure.CodeValidation, "config", err)
	}
	for _, s := range []struct {
		name  string
		stage StageConfig
	}{{"stage1", c.Stage1}, {"stage2", c.Stage2}} {
		if err := s.stage.Model.Validate(); err != nil {
			return err
		}
		if err := s.stage.Efficiency.Validate(); err != nil {
			return failure.Validation(s.name + " efficiency: " + err.Error())
		}
		if err := s.stage.Limit.Validate(); err != nil {
			return failure.Validation(s.name + " limit: " + err.Error())
		}
	}
	if err := c.Charges.Returns.Validate(); err != nil {
		return failure.Validation("rate of return: " + err.Error())
	}
	return charges.ValidateSchedules(c.Charges.Schedules)
}

// Combinations is the number of stage-3 runs the configuration implies.
func (c *Config) Combinations() int {
	return c.Stage1.Space().Len() * c.Stage2.Space().Len()
}
