// Package costdata holds the cost item rows exchanged between model stages
// and reads them from the model input workbooks.
package costdata

import "strings"

const (
	ColCompany    = "company"
	ColItemNumber = "item number"
	ColYear       = "year"
	ColUnit       = "unit"
	ColDP         = "dp"
	ColValue      = "value"
)

var RequiredColumns = []string{ColCompany, ColItemNumber, ColYear, ColUnit, ColDP, ColValue}

// Row is one (company, item, fiscal year) cost value. Stages build new rows
// rather than modifying the ones they receive.
type Row struct {
	Company    string  `json:"company" db:"company"`
	ItemNumber string  `json:"item_number" db:"item_number"`
	Year       string  `json:"year" db:"year"`
	Unit       string  `json:"unit" db:"unit"`
	DP         int     `json:"dp" db:"dp"`
	Value      float64 `json:"value" db:"value"`
}

func (r Row) HasPrefix(prefix string) bool {
	return strings.HasPrefix(r.ItemNumber, prefix)
}

// Clone returns an independent copy of rows.
func Clone(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}

// Companies returns the distinct companies in first-appearance order.
func Companies(rows []Row) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		if seen[r.Company] {
			continue
		}
		seen[r.Company] = true
		out = append(out, r.Company)
	}
	return out
}
