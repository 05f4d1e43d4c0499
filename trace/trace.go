// Package trace records the progress of an adaptive sampling run.  Each
// round produces one Record and recoverable failures produce Events.  Sinks
// persist them as append-only text, sqlite tables or in memory.
package trace

import (
	"errors"
	"fmt"
	"sync"
)

type Verbosity int

const (
	Silent Verbosity = iota
	Quiet
	All
)

func (v Verbosity) String() string {
	switch v {
	case Silent:
		return "silent"
	case Quiet:
		return "quiet"
	case All:
		return "all"
	}
	return fmt.Sprintf("Verbosity(%d)", int(v))
}

func ParseVerbosity(s string) (Verbosity, error) {
	switch s {
	case "silent":
		return Silent, nil
	case "quiet", "":
		return Quiet, nil
	case "all":
		return All, nil
	}
	return Quiet, fmt.Errorf("trace: unknown verbosity %q", s)
}

// Entry is a per-output value attached to a subset or multi-index.
type Entry struct {
	Key    string
	Values []float64
}

// Record summarizes one round.
type Record struct {
	Run     string
	Round   int
	State   string
	Active  int // active multi-indices
	Subsets int // fitted components
	Samples int // model evaluations so far
	// Max is the largest relative variance estimate over the frontier.
	Max     float64
	Total   []float64 // total variance per output
	Verdict string
	// Indices holds the Sobol index of every subset.
	Indices []Entry
	// Frontier holds the estimated contribution of every candidate.
	Frontier []Entry
}

// Event kinds.
const (
	EventInsufficientSamples = "insufficient_samples"
	EventSingularFit         = "singular_fit"
	EventModelError          = "model_error"
	EventCancelled           = "cancelled"
	EventInadmissible        = "inadmissible_index"
	EventWarning             = "warning"
	EventFailure             = "failure"
)

type Event struct {
	Run     string
	Round   int
	State   string
	Kind    string
	Subset  string
	Degrees []int
	Detail  string
}

type Sink interface {
	Round(r Record) error
	Event(e Event) error
	Close() error
}

type Nop struct{}

func (Nop) Round(Record) error { return nil }
func (Nop) Event(Event) error  { return nil }
func (Nop) Close() error       { return nil }

// Memory keeps every record and event.
type Memory struct {
	mu      sync.Mutex
	Records []Record
	Events  []Event
}

func (m *Memory) Round(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, r)
	return nil
}

func (m *Memory) Event(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

func (m *Memory) Close() error { return nil }

// EventsOf returns the recorded events of the given kind.
func (m *Memory) EventsOf(kind string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var evs []Event
	for _, e := range m.Events {
		if e.Kind == kind {
			evs = append(evs, e)
		}
	}
	return evs
}

type multi []Sink

// Multi returns a sink that writes to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) Round(r Record) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Round(r))
	}
	return errors.Join(errs...)
}

func (m multi) Event(e Event) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Event(e))
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
