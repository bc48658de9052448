// Package grid enumerates the policy parameter ranges of a scenario run.
package grid

import (
	"fmt"
	"math"
)

// Range is a half-open float sequence [Start, Stop) advancing by Step.
// The length is ceil((Stop-Start)/Step) and element i is Start + i*delta,
// where delta is (Start+Step)-Start. Grid cardinality multiplies total work,
// so the floating-point step behaviour is part of the contract.
type Range struct {
	Start float64 `toml:"start" yaml:"start" json:"start"`
	Stop  float64 `toml:"stop" yaml:"stop" json:"stop"`
	Step  float64 `toml:"step" yaml:"step" json:"step"`
}

func Single(v float64) Range {
	return Range{Start: v, Stop: v + 1, Step: 2}
}

func (r Range) Len() int {
	if r.Step == 0 || math.IsNaN(r.Step) {
		return 0
	}
	n := math.Ceil((r.Stop - r.Start) / r.Step)
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}

func (r Range) Values() []float64 {
	n := r.Len()
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	out[0] = r.Start
	if n == 1 {
		return out
	}
	second := r.Start + r.Step
	out[1] = second
	delta := second - r.Start
	for i := 2; i < n; i++ {
		out[i] = r.Start + float64(i)*delta
	}
	return out
}

func (r Range) Validate() error {
	if r.Step == 0 {
		return fmt.Errorf("step must be non-zero")
	}
	if r.Len() == 0 {
		return fmt.Errorf("range [%g, %g) step %g is empty", r.Start, r.Stop, r.Step)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g) step %g", r.Start, r.Stop, r.Step)
}
