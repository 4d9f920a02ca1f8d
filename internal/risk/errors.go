package risk

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the estimators, the simulator and the comparator.
// Callers match with errors.Is; every returned error wraps exactly one of
// these.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDegenerateInput  = errors.New("degenerate input")
)

// MethodError reports which estimator failed inside a comparison.
type MethodError struct {
	Method     Method
	Confidence float64
	Err        error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s VaR at %.4g: %v", e.Method, e.Confidence, e.Err)
}

func (e *MethodError) Unwrap() error { return e.Err }
