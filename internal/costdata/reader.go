package costdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

const (
	DefaultSheet = "input Data"

	// The model workbooks carry a banner row above the column names.
	HeaderRow = 1
)

// Read loads model input rows from an .xlsx workbook or a .csv export with
// the same layout.
func Read(path, sheet string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(f)
	default:
		return ReadXLSX(path, sheet)
	}
}

func ReadXLSX(path, sheet string) ([]Row, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	// Stored numbers, not the number-formatted display text.
	records, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, failure.New(failure.CodeSchema, fmt.Sprintf("sheet %q in %s", sheet, path), err)
	}
	return FromTable(records, HeaderRow)
}

func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return FromTable(records, HeaderRow)
}

// FromTable converts a rectangular table whose column names sit on
// records[headerRow]. Columns other than the required ones, including the
// leading unnamed index column, are ignored. A missing required column is a
// schema failure; blank lines are skipped; a blank value reads as NaN.
func FromTable(records [][]string, headerRow int) ([]Row, error) {
	if len(records) <= headerRow {
		return nil, failure.Schema(fmt.Sprintf("table has %d rows, header expected on row %d", len(records), headerRow+1))
	}
	cols := map[string]int{}
	for i, name := range records[headerRow] {
		name = strings.TrimSpace(name)
		if _, dup := cols[name]; name != "" && !dup {
			cols[name] = i
		}
	}
	for _, name := range RequiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, failure.Schema("missing column " + strconv.Quote(name))
		}
	}

	cell := func(rec []string, name string) string {
		i := cols[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Row
	for n, rec := range records[headerRow+1:] {
		if blank(rec) {
			continue
		}
		line := headerRow + n + 2
		row := Row{
			Company:    cell(rec, ColCompany),
			ItemNumber: cell(rec, ColItemNumber),
			Year:       cell(rec, ColYear),
			Unit:       cell(rec, ColUnit),
		}
		if s := cell(rec, ColDP); s != "" {
			dp, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, failure.Schema(fmt.Sprintf("row %d: dp %q is not numeric", line, s))
			}
			row.DP = int(dp)
		}
		row.Value = math.NaN()
		if s := cell(rec, ColValue); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, failure.Schema(fmt.Sprintf("row %d: value %q is not numeric", line, s))
			}
			row.Value = v
		}
		out = append(out, row)
	}
	return out, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
