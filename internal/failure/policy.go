package failure

import "fmt"

// Policy decides what happens to incomplete company data and non-finite
// arithmetic. Lenient reproduces the reference model: incomplete companies
// are dropped and NaN/Inf flow through to the output.
type Policy string

const (
	Lenient Policy = "lenient"
	Strict  Policy = "strict"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", Lenient:
		return Lenient, nil
	case Strict:
		return Strict, nil
	}
	return "", Validation(fmt.Sprintf("unknown policy %q", s))
}

// CheckFinite returns a non_finite error under Strict when v is NaN or ±Inf.
func (p Policy) CheckFinite(what string, v float64) error {
	if p == Strict && !IsFinite(v) {
		return NonFinite(what, v)
	}
	return nil
}
