// Package charges aggregates the stage-1 and stage-2 cost series into company
// returns and customer charges, then smooths the charges over future years.
package charges

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

type Category int

const (
	RegulatedBase Category = iota
	RegulatedEnhancement
	CustomerBase
	CustomerEnhancement

	numCategories
)

var categoryPrefixes = [numCategories]string{
	RegulatedBase:        "PRABCL",
	RegulatedEnhancement: "PRAECL",
	CustomerBase:         "PRCBLC",
	CustomerEnhancement:  "PRCELC",
}

func (c Category) Prefix() string {
	if c < 0 || c >= numCategories {
		return ""
	}
	return categoryPrefixes[c]
}

func (c Category) String() string { return c.Prefix() }

// Classify maps an item number to its category by prefix.
func Classify(item string) (Category, bool) {
	for c, prefix := range categoryPrefixes {
		if strings.HasPrefix(item, prefix) {
			return Category(c), true
		}
	}
	return 0, false
}

// Schedule maps future fiscal years to smoothing factors.
type Schedule struct {
	ID      string             `toml:"id" yaml:"id" validate:"required"`
	Factors map[string]float64 `toml:"factors" yaml:"factors" validate:"required,min=1"`
}

// Years returns the schedule's fiscal years in ascending order.
func (s Schedule) Years() []string {
	years := make([]string, 0, len(s.Factors))
	for y := range s.Factors {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}

// ValidateSchedules requires unique ids and the same year set in every
// schedule.
func ValidateSchedules(schedules []Schedule) error {
	if len(schedules) == 0 {
		return failure.Validation("no smoothing schedules")
	}
	ids := map[string]bool{}
	want := schedules[0].Years()
	for _, s := range schedules {
		if ids[s.ID] {
			return failure.Validation(fmt.Sprintf("duplicate smoothing schedule %q", s.ID))
		}
		ids[s.ID] = true
		got := s.Years()
		if len(got) == 0 {
			return failure.Validation(fmt.Sprintf("smoothing schedule %q has no years", s.ID))
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			return failure.Validation(fmt.Sprintf("smoothing schedule %q covers %v, want %v", s.ID, got, want))
		}
	}
	return nil
}

// ResultRow is one stage-3 output row. SmoothFactor and Scenario are set on
// smoothed rows only. Stage1 and Stage2 are filled in by the caller.
type ResultRow struct {
	Company       string          `json:"company" db:"company"`
	ItemNumber    string          `json:"item_number" db:"item_number"`
	Year          string          `json:"year" db:"year"`
	Unit          string          `json:"unit" db:"unit"`
	DP            int             `json:"dp" db:"dp"`
	Value         float64         `json:"value" db:"value"`
	SmoothFactor  *float64        `json:"smooth_factor" db:"smooth_factor"`
	Scenario      string          `json:"scenario,omitempty" db:"scenario"`
	CompanyReturn float64         `json:"company_return" db:"company_return"`
	Stage1        costlimit.Point `json:"stage1"`
	Stage2        costlimit.Point `json:"stage2"`
}
