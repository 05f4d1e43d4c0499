package sampler

import (
	"fmt"

	"github.com/rwcarlsen/hdmr/surrogate"
)

type State int

const (
	Init State = iota
	Propose
	AwaitEvaluation
	Incorporate
	CheckConvergence
	Done
	Failed
)

var stateNames = [...]string{"Init", "Propose", "AwaitEvaluation", "Incorporate", "CheckConvergence", "Done", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

type Verdict string

const (
	Continue  Verdict = "continue"
	Converged Verdict = "converged"
	NotMet    Verdict = "not_met"
)

const (
	ReasonTolerance    = "tolerance met"
	ReasonNoCandidates = "no admissible candidates"
	ReasonBudget       = "budget exhausted"
	ReasonSamples      = "sample budget exhausted"
)

// ConvergenceState is the sampler's view of how far the surrogate is from
// the requested accuracy.
type ConvergenceState struct {
	Iteration int
	Samples   int
	// Estimates maps frontier candidate keys to their estimated variance
	// contribution per output.  Unestimated candidates hold +Inf.
	Estimates map[string][]float64
	// Surplus maps active index keys to the realized variance contribution
	// of the index when it was added.
	Surplus map[string][]float64
	// MaxRelative is the largest estimate relative to the total variance,
	// over candidates and outputs.
	MaxRelative float64
	// RoundRelative is the largest realized surplus of the last round
	// relative to the total variance.
	RoundRelative float64
	Verdict       Verdict
	Reason        string
}

// Result is the outcome of a finished run.
type Result struct {
	RunID     string
	Converged bool
	// Warning explains why the run stopped without converging.
	Warning     string
	Rounds      int
	Samples     int
	Surrogate   *surrogate.HDMR
	Indices     surrogate.Indices
	Convergence ConvergenceState
}
