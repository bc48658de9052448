package charges

import (
	"log/slog"
	"math"
	"sort"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costdata"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

const (
	DefaultUnit           = "£m 22-23 FYA CPIH"
	DefaultDP             = 3
	DefaultSmoothedSuffix = "PRSMCT1"
	DefaultReturnSuffix   = "PRCRCO1"
	DefaultChargeSuffix   = "PRCTCU1"
)

type Engine struct {
	Unit           string
	DP             int
	SmoothedSuffix string
	ReturnSuffix   string
	ChargeSuffix   string
	Policy         failure.Policy
	Logger         *slog.Logger
}

func NewEngine(policy failure.Policy, logger *slog.Logger) *Engine {
	if policy == "" {
		policy = failure.Lenient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Unit:           DefaultUnit,
		DP:             DefaultDP,
		SmoothedSuffix: DefaultSmoothedSuffix,
		ReturnSuffix:   DefaultReturnSuffix,
		ChargeSuffix:   DefaultChargeSuffix,
		Policy:         policy,
		Logger:         logger,
	}
}

// record is one (company, year) line of the category pivot.
type record struct {
	company string
	year    string
	cells   [numCategories]float64
}

// pivot sums rows by company, year and category. Records are sorted by
// company then year; a category with no rows is NaN, or a
// missing_company_data failure under the strict policy.
func (e *Engine) pivot(rows []costdata.Row) ([]record, error) {
	type key struct{ company, year string }
	type cell struct {
		sums    [numCategories]float64
		present [numCategories]bool
	}
	cells := map[key]*cell{}
	for _, r := range rows {
		c, ok := Classify(r.ItemNumber)
		if !ok {
			continue
		}
		k := key{r.Company, r.Year}
		x := cells[k]
		if x == nil {
			x = &cell{}
			cells[k] = x
		}
		x.present[c] = true
		if !math.IsNaN(r.Value) {
			x.sums[c] += r.Value
		}
	}

	keys := make([]key, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].company != keys[j].company {
			return keys[i].company < keys[j].company
		}
		return keys[i].year < keys[j].year
	})

	out := make([]record, 0, len(keys))
	for _, k := range keys {
		x := cells[k]
		rec := record{company: k.company, year: k.year}
		for c := Category(0); c < numCategories; c++ {
			if x.present[c] {
				rec.cells[c] = x.sums[c]
				continue
			}
			if e.Policy == failure.Strict {
				return nil, failure.MissingCompanyData(k.company, c.Prefix()+" "+k.year)
			}
			rec.cells[c] = math.NaN()
		}
		out = append(out, rec)
	}
	return out, nil
}

// Run produces, for each rate of return in order, the smoothed charge rows,
// then the company return rows, then the customer charge rows.
func (e *Engine) Run(rows []costdata.Row, schedules []Schedule, returns []float64) ([]ResultRow, error) {
	records, err := e.pivot(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		e.Logger.Warn("no stage-3 items in dataset", slog.Int("rows", len(rows)))
	}

	var out []ResultRow
	for _, r := range returns {
		retRows := make([]ResultRow, 0, len(records))
		chargeRows := make([]ResultRow, 0, len(records))

		var companies []string
		totals := map[string]float64{}
		counts := map[string]int{}
		for _, rec := range records {
			ret := (rec.cells[RegulatedBase] + rec.cells[RegulatedEnhancement]) * r
			charge := rec.cells[CustomerBase] + rec.cells[CustomerEnhancement] + ret
			if err := e.Policy.CheckFinite(rec.company+" "+rec.year+" company return", ret); err != nil {
				return nil, err
			}
			if err := e.Policy.CheckFinite(rec.company+" "+rec.year+" charge", charge); err != nil {
				return nil, err
			}

			if _, ok := counts[rec.company]; !ok {
				companies = append(companies, rec.company)
				counts[rec.company] = 0
			}
			if !math.IsNaN(charge) {
				totals[rec.company] += charge
				counts[rec.company]++
			}

			retRows = append(retRows, e.row(rec.company, e.ReturnSuffix, rec.year, ret, r))
			chargeRows = append(chargeRows, e.row(rec.company, e.ChargeSuffix, rec.year, charge, r))
		}

		averages := make(map[string]float64, len(companies))
		for _, c := range companies {
			if counts[c] == 0 {
				averages[c] = math.NaN()
				continue
			}
			averages[c] = totals[c] / float64(counts[c])
		}

		for _, s := range schedules {
			for _, year := range s.Years() {
				factor := s.Factors[year]
				for _, c := range companies {
					row := e.row(c, e.SmoothedSuffix, year, averages[c]*factor, r)
					f := factor
					row.SmoothFactor = &f
					row.Scenario = s.ID
					out = append(out, row)
				}
			}
		}
		out = append(out, retRows...)
		out = append(out, chargeRows...)
	}
	return out, nil
}

func (e *Engine) row(company, suffix, year string, value, r float64) ResultRow {
	return ResultRow{
		Company:       company,
		ItemNumber:    company + suffix,
		Year:          year,
		Unit:          e.Unit,
		DP:            e.DP,
		Value:         value,
		CompanyReturn: r,
	}
}
