package sampler

import (
	"errors"
	"fmt"

	"github.com/rwcarlsen/hdmr/index"
)

var (
	// ErrFinished is returned when stepping a sampler that is Done.
	ErrFinished = errors.New("sampler: run finished")
	ErrNoModel  = errors.New("sampler: nil model")
	ErrNoVars   = errors.New("sampler: no variables declared")
)

// ConvergenceFailure is a fatal failure to fit the surrogate.
type ConvergenceFailure struct {
	Round   int
	State   State
	Subset  index.Subset
	Degrees []int
	Reason  string
	Err     error
}

func (e *ConvergenceFailure) Error() string {
	s := fmt.Sprintf("sampler: round %d %v: convergence failure", e.Round, e.State)
	if e.Subset != nil {
		s += fmt.Sprintf(" in component %v degrees %v", e.Subset, e.Degrees)
	}
	s += ": " + e.Reason
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConvergenceFailure) Unwrap() error { return e.Err }

// StepError attaches the round and state to an error raised while stepping.
type StepError struct {
	Round int
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sampler: round %d %v: %v", e.Round, e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
