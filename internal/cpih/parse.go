package cpih

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var periodRe = regexp.MustCompile(`^\d{4} [A-Z]{3}$`)

var monthNumber = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

// ParseStats counts what ParseCSV kept and silently discarded.
type ParseStats struct {
	Records int
	Monthly int
	Dropped int
}

// ParseObservations reads the ONS timeseries CSV. The first PreambleRows
// records are metadata and the next one is a header; the first column holds
// the period label and the second the index value. Annual, quarterly and
// malformed rows are dropped without error. Unparseable values become NaN.
func ParseObservations(r io.Reader, opts Options) ([]Observation, ParseStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var stats ParseStats
	var out []Observation
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read index csv: %w", err)
		}
		line++
		if line <= opts.PreambleRows+1 {
			continue
		}
		stats.Records++
		if len(rec) < 2 {
			stats.Dropped++
			continue
		}
		period := strings.TrimSpace(rec[0])
		if !periodRe.MatchString(period) {
			stats.Dropped++
			continue
		}
		month, ok := monthNumber[period[5:]]
		if !ok {
			stats.Dropped++
			continue
		}
		year, _ := strconv.Atoi(period[:4])
		value, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			value = math.NaN()
		}
		stats.Monthly++
		out = append(out, Observation{Year: year, Month: month, Value: value})
	}
	return out, stats, nil
}

// ParseCSV parses an ONS timeseries CSV and builds the fiscal-year index.
func ParseCSV(r io.Reader, opts Options) (*Index, ParseStats, error) {
	obs, stats, err := ParseObservations(r, opts)
	if err != nil {
		return nil, stats, err
	}
	ix, err := Build(obs, opts)
	return ix, stats, err
}
