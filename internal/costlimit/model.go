// Package costlimit implements the stage-1 and stage-2 cost-limit models.
// Both stages share one engine and differ only in their Model definition.
package costlimit

import (
	"fmt"
	"strings"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costdata"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

// Rename rewrites every occurrence of Old in an item number with New.
type Rename struct {
	Old string `toml:"old" yaml:"old" validate:"required"`
	New string `toml:"new" yaml:"new"`
}

func (r Rename) Apply(item string) string {
	return strings.ReplaceAll(item, r.Old, r.New)
}

// Model describes one cost-limit stage. ActualItems[i] is compared with
// PlanItems[i]; each family is normalised by its household item.
type Model struct {
	Name                string   `toml:"name" yaml:"name" validate:"required"`
	InflationYear       string   `toml:"inflation_year" yaml:"inflation_year" validate:"required"`
	ActualItems         []string `toml:"actual_items" yaml:"actual_items" validate:"required,min=1,dive,required"`
	ActualHouseholds    string   `toml:"actual_households" yaml:"actual_households" validate:"required"`
	PlanItems           []string `toml:"plan_items" yaml:"plan_items" validate:"required,min=1,dive,required"`
	PlanHouseholds      string   `toml:"plan_households" yaml:"plan_households" validate:"required"`
	ActualExcludedYears []string `toml:"actual_excluded_years" yaml:"actual_excluded_years"`
	PlanExcludedYears   []string `toml:"plan_excluded_years" yaml:"plan_excluded_years"`
	Regulated           Rename   `toml:"regulated" yaml:"regulated"`
	Customer            Rename   `toml:"customer" yaml:"customer"`
}

func DefaultModel1() Model {
	return Model{
		Name:                "model1",
		InflationYear:       "2022-23",
		ActualItems:         []string{"APRBCL1", "APRBCL2", "APRBCL3", "APRBCL4", "APRBCL5"},
		ActualHouseholds:    "APRHH1",
		PlanItems:           []string{"BPTBCL1", "BPTBCL2", "BPTBCL3", "BPTBCL4", "BPTBCL5"},
		PlanHouseholds:      "BPTHH1",
		ActualExcludedYears: []string{"2017-18"},
		PlanExcludedYears:   []string{"2023-24", "2024-25"},
		Regulated:           Rename{Old: "BPT", New: "PRA"},
		Customer:            Rename{Old: "BPTBCL", New: "PRCBLC"},
	}
}

func DefaultModel2() Model {
	return Model{
		Name:                "model2",
		InflationYear:       "2022-23",
		ActualItems:         []string{"APRECL1", "APRECL2", "APRECL3", "APRECL4", "APRECL5"},
		ActualHouseholds:    "APRHH1",
		PlanItems:           []string{"BPTECL1", "BPTECL2", "BPTECL3", "BPTECL4", "BPTECL5"},
		PlanHouseholds:      "BPTHH1",
		ActualExcludedYears: []string{"2017-18"},
		PlanExcludedYears:   []string{"2023-24", "2024-25"},
		Regulated:           Rename{Old: "BPT", New: "PRA"},
		Customer:            Rename{Old: "BPTECL", New: "PRCELC"},
	}
}

// Validate checks what struct tags cannot express.
func (m Model) Validate() error {
	if len(m.ActualItems) != len(m.PlanItems) {
		return failure.Validation(fmt.Sprintf("%s: %d actual items but %d plan items", m.Name, len(m.ActualItems), len(m.PlanItems)))
	}
	if m.Regulated.Old == "" || m.Customer.Old == "" {
		return failure.Validation(m.Name + ": rename mappings need a non-empty old pattern")
	}
	return nil
}

// Point is one stage-1 or stage-2 parameter combination. LimitIncrease is
// the line-increase limit minus one, as reported downstream.
type Point struct {
	Efficiency    float64 `json:"efficiency" db:"efficiency"`
	LimitIncrease float64 `json:"limit_increase" db:"limit_increase"`
}

func (p Point) String() string {
	return fmt.Sprintf("efficiency=%g limit_increase=%g", p.Efficiency, p.LimitIncrease)
}

// Row is an output row tagged with the point that produced it.
type Row struct {
	costdata.Row
	Point Point `json:"point"`
}
