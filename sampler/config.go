package sampler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the user-facing parameters of a run.
type Config struct {
	// RelTolerance is the target relative variance contribution of the
	// frontier.
	RelTolerance float64 `yaml:"relTolerance" json:"relTolerance" validate:"gt=0"`
	// MaxRuns bounds the number of adaptive rounds.
	MaxRuns int `yaml:"maxRuns" json:"maxRuns" validate:"gte=1"`
	// MaxSobolOrder is the largest interaction order considered.
	MaxSobolOrder int `yaml:"maxSobolOrder" json:"maxSobolOrder" validate:"gte=1"`
	// PolynomialOrder is the largest single-variable degree.  Mixed terms
	// are limited by the hyperbolic cross Π(k_i+1) <= PolynomialOrder+1.
	// Each variable carries dist.MaxNodes abscissas, so it stays below 64.
	PolynomialOrder int `yaml:"polynomialOrder" json:"polynomialOrder" validate:"gte=1,lte=63"`
	// ProgressParam is the fraction of the frontier refined per round.
	ProgressParam float64 `yaml:"progressParam" json:"progressParam" validate:"gt=0,lte=1"`
	// LogFile, if set, receives the text trace.
	LogFile         string `yaml:"logFile" json:"logFile"`
	SubsetVerbosity string `yaml:"subsetVerbosity" json:"subsetVerbosity" validate:"oneof=silent quiet all"`

	// Outputs is the length of the model response.
	Outputs int `yaml:"outputs" json:"outputs" validate:"gte=1"`
	// BatchSize bounds the number of concurrent model evaluations.
	BatchSize int `yaml:"batchSize" json:"batchSize" validate:"gte=1"`
	// RetryCap bounds the insufficient-sample top ups within a round.
	RetryCap int `yaml:"retryCap" json:"retryCap" validate:"gte=0"`
	// RoundTimeout bounds the evaluation phase of a round; zero means none.
	RoundTimeout time.Duration `yaml:"roundTimeout" json:"roundTimeout" validate:"gte=0"`
	// MaxSamples bounds the number of model evaluations; zero means none.
	MaxSamples int `yaml:"maxSamples" json:"maxSamples" validate:"gte=0"`
	// Seed seeds random validation draws.
	Seed uint64 `yaml:"seed" json:"seed"`
	// NormTolerance bounds |1 - Σ S_u| when checking the indices.
	NormTolerance float64 `yaml:"normTolerance" json:"normTolerance" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		RelTolerance:    1e-4,
		MaxRuns:         50,
		MaxSobolOrder:   2,
		PolynomialOrder: 4,
		ProgressParam:   0.5,
		SubsetVerbosity: "quiet",
		Outputs:         1,
		BatchSize:       1,
		RetryCap:        3,
		NormTolerance:   1e-8,
	}
}

// ConfigError reports every invalid configuration field.
type ConfigError struct {
	Fields []string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sampler: invalid configuration (%s): %v", strings.Join(e.Fields, ", "), e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ConfigError{Err: err}
	}
	ce := &ConfigError{Err: err}
	for _, fe := range verrs {
		ce.Fields = append(ce.Fields, fe.Field())
	}
	return ce
}
