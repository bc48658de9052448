package costlimit

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costdata"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/cpih"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/grid"
)

// Engine caps planned cost growth against inflated historical actuals and
// derives the regulated and customer series for every parameter point.
type Engine struct {
	Model  Model
	Policy failure.Policy
	Logger *slog.Logger
}

func NewEngine(m Model, policy failure.Policy, logger *slog.Logger) *Engine {
	if policy == "" {
		policy = failure.Lenient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Model: m, Policy: policy, Logger: logger}
}

type pairKey struct {
	company string
	item    string
}

// pairRatio holds the per-household ratios for one company and one
// actual/plan item pair.
type pairRatio struct {
	actual float64
	plan   float64
}

// Run evaluates every (efficiency, limit) pair of space, efficiency varying
// slowest, and concatenates the tagged rows. space.First is efficiency and
// space.Second is the line-increase limit.
func (e *Engine) Run(data []costdata.Row, space grid.Space2, index *cpih.Index) ([]Row, error) {
	if err := e.Model.Validate(); err != nil {
		return nil, err
	}
	inflation, err := index.Inflation(e.Model.InflationYear)
	if err != nil {
		return nil, fmt.Errorf("%s inflation year: %w", e.Model.Name, err)
	}

	ratios, err := e.ratios(data, inflation)
	if err != nil {
		return nil, err
	}
	plan := e.planRows(data, ratios)

	var out []Row
	for _, p := range space.Pairs() {
		rows, err := e.evaluate(plan, ratios, p.First, p.Second)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// ratios aggregates both families per company and item and pairs them.
// A company lacking any of the four aggregates for a pair has no entry.
func (e *Engine) ratios(data []costdata.Row, inflation float64) (map[pairKey]pairRatio, error) {
	m := e.Model
	actualItems := set(m.ActualItems)
	planItems := set(m.PlanItems)
	actualExcluded := set(m.ActualExcludedYears)
	planExcluded := set(m.PlanExcludedYears)

	actual := aggregate{}
	plan := aggregate{}
	actualHH := aggregate{}
	planHH := aggregate{}
	var companies []string
	seen := map[string]bool{}

	for _, r := range data {
		item := r.ItemNumber
		relevant := true
		switch {
		case actualItems[item]:
			if !actualExcluded[r.Year] {
				actual.add(r.Company, item, r.Value*inflation)
			}
		case item == m.ActualHouseholds:
			if !actualExcluded[r.Year] {
				actualHH.add(r.Company, "", r.Value)
			}
		case planItems[item]:
			if !planExcluded[r.Year] {
				plan.add(r.Company, item, r.Value)
			}
		case item == m.PlanHouseholds:
			if !planExcluded[r.Year] {
				planHH.add(r.Company, "", r.Value)
			}
		default:
			relevant = false
		}
		if relevant && !seen[r.Company] {
			seen[r.Company] = true
			companies = append(companies, r.Company)
		}
	}

	out := map[pairKey]pairRatio{}
	for _, company := range companies {
		for i, planItem := range m.PlanItems {
			actualItem := m.ActualItems[i]
			a, okA := actual[pairKey{company, actualItem}]
			ah, okAH := actualHH[pairKey{company, ""}]
			p, okP := plan[pairKey{company, planItem}]
			ph, okPH := planHH[pairKey{company, ""}]
			if !okA || !okAH || !okP || !okPH {
				if e.Policy == failure.Strict {
					return nil, failure.MissingCompanyData(company, missingItem(okA, okAH, okP, actualItem, m.ActualHouseholds, planItem, m.PlanHouseholds))
				}
				e.Logger.Warn("company dropped for item pair",
					slog.String("model", m.Name),
					slog.String("company", company),
					slog.String("actual_item", actualItem),
					slog.String("plan_item", planItem))
				continue
			}
			out[pairKey{company, planItem}] = pairRatio{
				actual: a / ah * 1e6,
				plan:   p / ph * 1e6,
			}
		}
	}
	return out, nil
}

// planRows returns the raw plan-family rows that survive the year filter and
// belong to a paired company, in input order.
func (e *Engine) planRows(data []costdata.Row, ratios map[pairKey]pairRatio) []costdata.Row {
	planItems := set(e.Model.PlanItems)
	planExcluded := set(e.Model.PlanExcludedYears)
	var out []costdata.Row
	for _, r := range data {
		if !planItems[r.ItemNumber] || planExcluded[r.Year] {
			continue
		}
		if _, ok := ratios[pairKey{r.Company, r.ItemNumber}]; !ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (e *Engine) evaluate(plan []costdata.Row, ratios map[pairKey]pairRatio, efficiency, limit float64) ([]Row, error) {
	m := e.Model
	point := Point{Efficiency: efficiency, LimitIncrease: limit - 1}

	regulated := make([]Row, 0, len(plan))
	customer := make([]Row, 0, len(plan))
	for _, r := range plan {
		pr := ratios[pairKey{r.Company, r.ItemNumber}]
		value := r.Value
		if scale, ok := capScale(pr, limit); ok {
			value = r.Value * scale
		}
		cust := value * efficiency
		if err := e.Policy.CheckFinite(r.Company+" "+r.ItemNumber+" "+r.Year, value); err != nil {
			return nil, err
		}
		if err := e.Policy.CheckFinite(r.Company+" "+r.ItemNumber+" "+r.Year+" customer", cust); err != nil {
			return nil, err
		}

		reg := r
		reg.ItemNumber = m.Regulated.Apply(r.ItemNumber)
		reg.Value = value
		regulated = append(regulated, Row{Row: reg, Point: point})

		c := r
		c.ItemNumber = m.Customer.Apply(r.ItemNumber)
		c.Value = cust
		customer = append(customer, Row{Row: c, Point: point})
	}
	return append(regulated, customer...), nil
}

// capScale reports the factor applied to plan rows when the plan ratio
// exceeds the actual ratio by more than limit.
func capScale(pr pairRatio, limit float64) (float64, bool) {
	quotient := pr.plan / pr.actual * 100
	if !(quotient > limit*100) {
		return 0, false
	}
	scale := pr.actual * limit / pr.plan
	if math.IsNaN(scale) {
		return 0, false
	}
	return scale, true
}

// aggregate sums values per key, skipping missing readings. A key is present
// once any row for it has been seen.
type aggregate map[pairKey]float64

func (a aggregate) add(company, item string, v float64) {
	k := pairKey{company, item}
	sum := a[k]
	if !math.IsNaN(v) {
		sum += v
	}
	a[k] = sum
}

func missingItem(okA, okAH, okP bool, actual, actualHH, plan, planHH string) string {
	switch {
	case !okA:
		return actual
	case !okAH:
		return actualHH
	case !okP:
		return plan
	default:
		return planHH
	}
}

func set(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
