// Package scenario pairs every stage-1 parameter point with every stage-2
// parameter point.
package scenario

import (
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costdata"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costlimit"
)

// Combined is the union of one stage-1 point's rows and one stage-2 point's
// rows. No join is performed; stage 3 separates the families by item prefix.
type Combined struct {
	Stage1 costlimit.Point
	Stage2 costlimit.Point
	Rows   []costdata.Row
}

// Points returns the distinct points of rows in first-appearance order.
func Points(rows []costlimit.Row) []costlimit.Point {
	seen := map[costlimit.Point]bool{}
	var out []costlimit.Point
	for _, r := range rows {
		if seen[r.Point] {
			continue
		}
		seen[r.Point] = true
		out = append(out, r.Point)
	}
	return out
}

// Count is the number of datasets Combine would produce.
func Count(stage1, stage2 []costlimit.Row) int {
	return len(Points(stage1)) * len(Points(stage2))
}

// Combine builds one dataset per (stage-1 point, stage-2 point), stage-1
// varying slowest. Every dataset then runs through stage 3 once per rate of
// return, so total work is O(N1 * N2 * N3) in the three grid sizes.
func Combine(stage1, stage2 []costlimit.Row) []Combined {
	p1, by1 := split(stage1)
	p2, by2 := split(stage2)

	out := make([]Combined, 0, len(p1)*len(p2))
	for _, a := range p1 {
		for _, b := range p2 {
			rows := make([]costdata.Row, 0, len(by1[a])+len(by2[b]))
			rows = append(rows, by1[a]...)
			rows = append(rows, by2[b]...)
			out = append(out, Combined{Stage1: a, Stage2: b, Rows: rows})
		}
	}
	return out
}

// Each is Combine without holding every dataset at once. fn is called in the
// same order; a non-nil error stops the iteration and is returned.
func Each(stage1, stage2 []costlimit.Row, fn func(n int, c Combined) error) error {
	p1, by1 := split(stage1)
	p2, by2 := split(stage2)

	n := 0
	for _, a := range p1 {
		for _, b := range p2 {
			n++
			rows := make([]costdata.Row, 0, len(by1[a])+len(by2[b]))
			rows = append(rows, by1[a]...)
			rows = append(rows, by2[b]...)
			if err := fn(n, Combined{Stage1: a, Stage2: b, Rows: rows}); err != nil {
				return err
			}
		}
	}
	return nil
}

func split(rows []costlimit.Row) ([]costlimit.Point, map[costlimit.Point][]costdata.Row) {
	points := Points(rows)
	by := make(map[costlimit.Point][]costdata.Row, len(points))
	for _, r := range rows {
		by[r.Point] = append(by[r.Point], r.Row)
	}
	return points, by
}
