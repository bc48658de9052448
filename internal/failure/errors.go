package failure

import (
	"errors"
	"fmt"
	"math"
)

const (
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeLookup              = "lookup"
	CodeSchema              = "schema"
	CodeMissingCompanyData  = "missing_company_data"
	CodeNonFinite           = "non_finite"
	CodeValidation          = "validation"
	CodeInternal            = "internal"
)

var (
	ErrMissingCompanyData = errors.New("company is missing a required item")
	ErrNonFinite          = errors.New("non-finite value")
)

// Error is a coded failure. Every failure is terminal for a run.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Schema(message string) error {
	return New(CodeSchema, message, nil)
}

func Validation(message string) error {
	return New(CodeValidation, message, nil)
}

func Lookup(message string, err error) error {
	return New(CodeLookup, message, err)
}

func MissingCompanyData(company, item string) error {
	return New(CodeMissingCompanyData, fmt.Sprintf("company=%s item=%s", company, item), ErrMissingCompanyData)
}

func NonFinite(what string, v float64) error {
	return New(CodeNonFinite, fmt.Sprintf("%s=%v", what, v), ErrNonFinite)
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch {
	case errors.Is(err, ErrMissingCompanyData):
		return CodeMissingCompanyData
	case errors.Is(err, ErrNonFinite):
		return CodeNonFinite
	}
	return CodeInternal
}

// ExitCode maps a run error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case CodeValidation:
		return 2
	case CodeUpstreamUnavailable:
		return 3
	case CodeSchema:
		return 4
	case CodeLookup:
		return 5
	case CodeMissingCompanyData, CodeNonFinite:
		return 6
	default:
		return 1
	}
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
