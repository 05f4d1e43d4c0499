// Package config loads a run description from YAML: the sampler settings,
// the uncertain variables and the model to evaluate.
//
//	sampler:
//	  relTolerance: 1e-4
//	  maxRuns: 20
//	  maxSobolOrder: 2
//	  polynomialOrder: 4
//	  progressParam: 0.5
//	  subsetVerbosity: quiet
//	variables:
//	  - name: x1
//	    dist: {kind: uniform, min: -1, max: 1}
//	  - name: x2
//	    dist: {kind: normal, mu: 0, sigma: 1}
//	model:
//	  bench: Linear2
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rwcarlsen/hdmr/dist"
	"github.com/rwcarlsen/hdmr/sampler"
	"gopkg.in/yaml.v3"
)

type Variable struct {
	Name string    `yaml:"name" validate:"required"`
	Dist dist.Spec `yaml:"dist" validate:"required"`
}

type Model struct {
	// Bench names one of the analytic functions of package bench.
	Bench string `yaml:"bench"`
}

type File struct {
	Sampler   sampler.Config `yaml:"sampler" validate:"-"`
	Variables []Variable     `yaml:"variables" validate:"required,min=1,dive"`
	Model     Model          `yaml:"model"`
}

// ValidationError lists every invalid field of a configuration file.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid fields %s: %v", strings.Join(e.Fields, ", "), e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a configuration.  Sampler settings missing
// from data keep their defaults.
func Parse(data []byte) (*File, error) {
	f := &File{Sampler: sampler.DefaultConfig()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		ve := &ValidationError{Err: err}
		for _, fe := range verrs {
			ve.Fields = append(ve.Fields, fe.Namespace())
		}
		return ve
	}
	if err := f.Sampler.Validate(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, v := range f.Variables {
		if seen[v.Name] {
			return &dist.DuplicateVariableError{Name: v.Name}
		}
		seen[v.Name] = true
	}
	return nil
}

// Space declares the configured variables in order.
func (f *File) Space() (*dist.Space, error) {
	s := dist.NewSpace()
	for _, v := range f.Variables {
		d, err := v.Dist.Build()
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
		if err := s.Declare(v.Name, d); err != nil {
			return nil, err
		}
	}
	return s, nil
}
