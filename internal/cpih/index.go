// Package cpih derives per-fiscal-year inflation and deflation ratios from the
// ONS CPIH monthly index.
package cpih

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

const (
	DefaultBaseYear        = "2017-18"
	DefaultFirstFiscalYear = 2016
	DefaultEndFiscalYear   = 2025
	DefaultPreambleRows    = 7
)

var (
	ErrUpstreamUnavailable = errors.New("reference index unavailable")
	ErrYearNotFound        = errors.New("fiscal year not in index")
)

// Options controls how monthly observations are averaged into fiscal years.
// Fiscal years are selected by the calendar year they end in:
// FirstFiscalYear <= end < EndFiscalYear.
type Options struct {
	BaseYear        string `toml:"base_year" yaml:"base_year" validate:"required"`
	FirstFiscalYear int    `toml:"first_fiscal_year" yaml:"first_fiscal_year"`
	EndFiscalYear   int    `toml:"end_fiscal_year" yaml:"end_fiscal_year" validate:"gtfield=FirstFiscalYear"`
	PreambleRows    int    `toml:"preamble_rows" yaml:"preamble_rows" validate:"gte=0"`
}

func DefaultOptions() Options {
	return Options{
		BaseYear:        DefaultBaseYear,
		FirstFiscalYear: DefaultFirstFiscalYear,
		EndFiscalYear:   DefaultEndFiscalYear,
		PreambleRows:    DefaultPreambleRows,
	}
}

// Observation is one monthly index reading.
type Observation struct {
	Year  int
	Month int
	Value float64
}

// Ratio is the averaged index for one fiscal year relative to the base year.
type Ratio struct {
	Year       string  `json:"fiscal_year"`
	IndexValue float64 `json:"index_value"`
	Deflation  float64 `json:"deflation"`
	Inflation  float64 `json:"inflation"`
}

// Index maps fiscal-year labels to ratios. The base year's inflation is
// exactly 1.0.
type Index struct {
	base   string
	ratios []Ratio
	byYear map[string]int
}

// FiscalYearEnd returns the calendar year in which the fiscal year containing
// (year, month) ends. Fiscal years start in April.
func FiscalYearEnd(year, month int) int {
	if month >= 4 {
		return year + 1
	}
	return year
}

// Label formats a fiscal year ending in end as "YYYY-YY".
func Label(end int) string {
	return fmt.Sprintf("%d-%02d", end-1, end%100)
}

// Build averages observations per fiscal year and derives ratios against
// opts.BaseYear. NaN readings are skipped when averaging.
func Build(obs []Observation, opts Options) (*Index, error) {
	type acc struct {
		sum float64
		n   int
	}
	groups := map[int]*acc{}
	for _, o := range obs {
		end := FiscalYearEnd(o.Year, o.Month)
		if end < opts.FirstFiscalYear || end >= opts.EndFiscalYear {
			continue
		}
		g := groups[end]
		if g == nil {
			g = &acc{}
			groups[end] = g
		}
		if math.IsNaN(o.Value) {
			continue
		}
		g.sum += o.Value
		g.n++
	}

	ends := make([]int, 0, len(groups))
	for end := range groups {
		ends = append(ends, end)
	}
	sort.Ints(ends)

	averaged := make([]Ratio, 0, len(ends))
	base := math.NaN()
	foundBase := false
	for _, end := range ends {
		g := groups[end]
		mean := math.NaN()
		if g.n > 0 {
			mean = g.sum / float64(g.n)
		}
		label := Label(end)
		if label == opts.BaseYear {
			base = mean
			foundBase = true
		}
		averaged = append(averaged, Ratio{Year: label, IndexValue: mean})
	}
	if !foundBase {
		return nil, failure.Lookup("base year "+opts.BaseYear, ErrYearNotFound)
	}

	ix := &Index{base: opts.BaseYear, byYear: map[string]int{}}
	for _, r := range averaged {
		if r.Year < opts.BaseYear {
			continue
		}
		r.Deflation = base / r.IndexValue
		r.Inflation = r.IndexValue / base
		ix.byYear[r.Year] = len(ix.ratios)
		ix.ratios = append(ix.ratios, r)
	}
	return ix, nil
}

// NewIndex builds an index directly from ratios, for fixtures and callers that
// already hold a derived series.
func NewIndex(base string, ratios []Ratio) *Index {
	ix := &Index{base: base, byYear: map[string]int{}}
	for _, r := range ratios {
		ix.byYear[r.Year] = len(ix.ratios)
		ix.ratios = append(ix.ratios, r)
	}
	return ix
}

func (ix *Index) BaseYear() string { return ix.base }

func (ix *Index) Len() int { return len(ix.ratios) }

func (ix *Index) Ratios() []Ratio {
	out := make([]Ratio, len(ix.ratios))
	copy(out, ix.ratios)
	return out
}

func (ix *Index) Lookup(year string) (Ratio, error) {
	if ix == nil {
		return Ratio{}, failure.Lookup("fiscal year "+year, ErrUpstreamUnavailable)
	}
	i, ok := ix.byYear[year]
	if !ok {
		return Ratio{}, failure.Lookup("fiscal year "+year, ErrYearNotFound)
	}
	return ix.ratios[i], nil
}

func (ix *Index) Inflation(year string) (float64, error) {
	r, err := ix.Lookup(year)
	if err != nil {
		return 0, err
	}
	return r.Inflation, nil
}

func (ix *Index) Deflation(year string) (float64, error) {
	r, err := ix.Lookup(year)
	if err != nil {
		return 0, err
	}
	return r.Deflation, nil
}
