package hdmr

import (
	"fmt"
	"strings"
)

// PointError records the failure of a single point in a batch.
type PointError struct {
	Index int // position of the point in the submitted batch
	X     []float64
	Err   error
}

func (e PointError) Error() string {
	return fmt.Sprintf("point %d %v: %v", e.Index, e.X, e.Err)
}

func (e PointError) Unwrap() error { return e.Err }

// ModelEvaluationError reports every point of a batch whose evaluation
// failed.  Round is filled in by the sampler and is zero when the error comes
// straight from an Evaler.
type ModelEvaluationError struct {
	Round    int
	Failures []PointError
}

func (e *ModelEvaluationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hdmr: %d model evaluation(s) failed", len(e.Failures))
	if e.Round > 0 {
		fmt.Fprintf(&b, " in round %d", e.Round)
	}
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, ": %v", e.Failures[0])
	}
	if len(e.Failures) > 1 {
		fmt.Fprintf(&b, " (and %d more)", len(e.Failures)-1)
	}
	return b.String()
}

func (e *ModelEvaluationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Indices returns the batch positions of the failed points.
func (e *ModelEvaluationError) Indices() []int {
	idx := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		idx[i] = f.Index
	}
	return idx
}

func collectErrors(points []Point, errs []error) error {
	var failures []PointError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, PointError{Index: i, X: points[i].Pos(), Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &ModelEvaluationError{Failures: failures}
}
