package store

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/charges"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
)

// TSV writes tab-separated rows with a header line. A file target is written
// to path+".tmp" and renamed into place only when the run completes.
type TSV struct {
	path string
	out  io.Writer
	file *os.File
	buf  *bufio.Writer
	w    *csv.Writer
}

// NewTSV targets path; "-" writes to stdout.
func NewTSV(path string) *TSV {
	if path == "-" {
		return &TSV{out: os.Stdout}
	}
	return &TSV{path: path}
}

// NewTSVWriter writes to w; Finish flushes but never closes it.
func NewTSVWriter(w io.Writer) *TSV {
	return &TSV{out: w}
}

func (t *TSV) Begin(_ context.Context, _ pipeline.Metadata) error {
	out := t.out
	if t.path != "" {
		f, err := os.Create(t.path + ".tmp")
		if err != nil {
			return fmt.Errorf("create tsv: %w", err)
		}
		t.file = f
		out = f
	}
	t.buf = bufio.NewWriterSize(out, 1<<16)
	t.w = csv.NewWriter(t.buf)
	t.w.Comma = '\t'
	return t.w.Write(Columns)
}

func (t *TSV) Write(_ context.Context, rows []charges.ResultRow) error {
	for _, r := range rows {
		factor := ""
		if r.SmoothFactor != nil {
			factor = formatFloat(*r.SmoothFactor)
		}
		if err := t.w.Write([]string{
			r.Company,
			r.ItemNumber,
			r.Year,
			r.Unit,
			strconv.Itoa(r.DP),
			formatFloat(r.Value),
			factor,
			formatFloat(r.CompanyReturn),
			r.Scenario,
			formatFloat(r.Stage1.Efficiency),
			formatFloat(r.Stage1.LimitIncrease),
			formatFloat(r.Stage2.Efficiency),
			formatFloat(r.Stage2.LimitIncrease),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *TSV) Finish(_ context.Context, meta pipeline.Metadata) error {
	if t.w == nil {
		return nil
	}
	t.w.Flush()
	err := t.w.Error()
	if ferr := t.buf.Flush(); err == nil {
		err = ferr
	}
	if t.file == nil {
		return err
	}

	tmp := t.file.Name()
	if cerr := t.file.Close(); err == nil {
		err = cerr
	}
	if err != nil || meta.StageFailed != "" {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, t.path)
}

// formatFloat writes the shortest round-trip form; NaN is empty.
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
