// Package report renders a run summary as markdown, HTML or PDF, optionally
// with model-written commentary.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/grid"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/pipeline"
)

// Params describes the sweep that produced a result.
type Params struct {
	Stage1Name  string
	Stage1      grid.Space2
	Stage2Name  string
	Stage2      grid.Space2
	Returns     grid.Range
	Schedules   []string
	Unit        string
	DP          int
	Commentary  string
	GeneratedAt time.Time
}

// Markdown renders the run summary.
func Markdown(res pipeline.Result, p Params) string {
	dp := int32(p.DP)
	if dp <= 0 {
		dp = 3
	}
	generated := p.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	meta := res.Metadata

	var b strings.Builder
	fmt.Fprintf(&b, "# Price Review Scenario Run\n\n")
	fmt.Fprintf(&b, "- Run ID: %s\n", meta.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", meta.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Completed: %s\n", meta.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Generated: %s\n", generated.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Policy: %s\n\n", meta.Policy)

	if meta.StageFailed != "" {
		fmt.Fprintf(&b, "> INCOMPLETE: stage `%s` failed after %d of %d combinations: %s\n\n",
			meta.StageFailed, meta.Completed, meta.Combinations, sanitize(meta.FailureReason))
	}

	fmt.Fprintf(&b, "## Parameters\n\n")
	fmt.Fprintf(&b, "| Stage | Efficiency | Line-increase limit | Points |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %d |\n", orDash(p.Stage1Name), p.Stage1.First, p.Stage1.Second, p.Stage1.Len())
	fmt.Fprintf(&b, "| %s | %s | %s | %d |\n\n", orDash(p.Stage2Name), p.Stage2.First, p.Stage2.Second, p.Stage2.Len())
	fmt.Fprintf(&b, "- Rate of return: %s (%d values)\n", p.Returns, p.Returns.Len())
	if len(p.Schedules) > 0 {
		fmt.Fprintf(&b, "- Smoothing schedules: %s\n", strings.Join(p.Schedules, ", "))
	}
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "## Run Size\n\n")
	fmt.Fprintf(&b, "| Measure | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Stage 1 rows | %d |\n", meta.Stage1Rows)
	fmt.Fprintf(&b, "| Stage 2 rows | %d |\n", meta.Stage2Rows)
	fmt.Fprintf(&b, "| Combinations | %d |\n", meta.Combinations)
	fmt.Fprintf(&b, "| Combinations completed | %d |\n", meta.Completed)
	fmt.Fprintf(&b, "| Result rows | %d |\n\n", meta.ResultRows)

	if len(res.Index) > 0 {
		fmt.Fprintf(&b, "## Reference Index\n\n")
		fmt.Fprintf(&b, "| Fiscal year | Index | Inflation | Deflation |\n|---|---|---|---|\n")
		for _, r := range res.Index {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", r.Year, Fixed(r.IndexValue, 3), Fixed(r.Inflation, 4), Fixed(r.Deflation, 4))
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(res.Companies) > 0 {
		unit := p.Unit
		if unit == "" {
			unit = "£m"
		}
		fmt.Fprintf(&b, "## Customer Charges by Company\n\n")
		fmt.Fprintf(&b, "Across all combinations, rates of return and years (%s).\n\n", unit)
		fmt.Fprintf(&b, "| Company | Rows | Min | Mean | Max | Non-finite |\n|---|---|---|---|---|---|\n")
		for _, c := range res.Companies {
			fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %d |\n",
				c.Company, c.Rows, Fixed(c.MinCharge, dp), Fixed(c.MeanCharge, dp), Fixed(c.MaxCharge, dp), c.NonFinite)
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(res.Stage1Points) > 0 || len(res.Stage2Points) > 0 {
		fmt.Fprintf(&b, "## Parameter Points\n\n")
		fmt.Fprintf(&b, "- Stage 1: %s\n", pointRange(res.Stage1Points))
		fmt.Fprintf(&b, "- Stage 2: %s\n\n", pointRange(res.Stage2Points))
	}

	if c := strings.TrimSpace(p.Commentary); c != "" {
		fmt.Fprintf(&b, "## Commentary\n\n%s\n", c)
	}
	return b.String()
}

// Fixed rounds v half away from zero to places decimals. Non-finite values
// render as "n/a".
func Fixed(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

func pointRange(points []costlimit.Point) string {
	if len(points) == 0 {
		return "none"
	}
	first, last := points[0], points[len(points)-1]
	return fmt.Sprintf("%d points, efficiency %s to %s, limit increase %s to %s",
		len(points), Fixed(first.Efficiency, 3), Fixed(last.Efficiency, 3),
		Fixed(first.LimitIncrease, 3), Fixed(last.LimitIncrease, 3))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func sanitize(s string) string {
	return strings.NewReplacer("\n", " ", "|", "/").Replace(strings.TrimSpace(s))
}

// WriteFile writes the summary to path: HTML for .html/.htm, markdown
// otherwise. The file is replaced atomically.
func WriteFile(path, markdown string) error {
	content := markdown
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		doc, err := HTML(markdown)
		if err != nil {
			return err
		}
		content = doc
	}
	return writeAtomic(path, []byte(content))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
