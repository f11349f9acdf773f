// Package experiment defines the hyperparameter record shared by the
// evolutionary loop and the problem being optimized during one experiment.
package experiment

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Bounds limits every gene of a real or integer chromosome.
type Bounds struct {
	Upper float64 `json:"upper" yaml:"upper"`
	Lower float64 `json:"lower" yaml:"lower" validate:"ltefield=Upper"`
}

// PopConfig describes the shape of the population.
type PopConfig struct {
	Dim     int     `json:"dim" yaml:"dim" validate:"gt=0"`
	PopSize int     `json:"pop_size" yaml:"pop_size" validate:"gt=0"`
	Type    PopType `json:"pop_type" yaml:"pop_type"`
	Bounds  *Bounds `json:"bounds,omitempty" yaml:"bounds,omitempty"`
}

// Config is the full hyperparameter record of an experiment. It is built
// once, either by Default or Load, and only read afterwards.
type Config struct {
	Pop                   PopConfig       `json:"pop_config" yaml:"pop_config"`
	Generations           int             `json:"qtd_gen" yaml:"qtd_gen" validate:"gt=0"`
	Runs                  int             `json:"qtd_runs" yaml:"qtd_runs" validate:"gt=0"`
	GenerationsToGenocide int             `json:"generations_to_genocide" yaml:"generations_to_genocide" validate:"gte=0"`
	Elitism               bool            `json:"elitism" yaml:"elitism"`
	Selection             SelectionMethod `json:"selection_method" yaml:"selection_method"`
	Crossover             CrossoverMethod `json:"crossover_method" yaml:"crossover_method"`
	CrossoverChance       float64         `json:"crossover_chance" yaml:"crossover_chance" validate:"gte=0,lte=1"`
	MutationChance        float64         `json:"mutation_chance" yaml:"mutation_chance" validate:"gte=0,lte=1"`
	// ConstraintPenalty multiplies the constraint violation and is added to
	// the normalized objective. Negative values penalize infeasibility.
	ConstraintPenalty float64 `json:"constraint_penalty" yaml:"constraint_penalty"`
	Kp                float64 `json:"kp" yaml:"kp"`
	// GenerationGap is the fraction of the population replaced per generation.
	GenerationGap float64 `json:"generation_gap" yaml:"generation_gap" validate:"gte=0,lte=1"`
}

// Default returns the reference configuration used when no document is given.
func Default() Config {
	return Config{
		Pop: PopConfig{
			Dim:     100,
			PopSize: 10,
			Type:    Binary,
		},
		Generations:           100,
		Runs:                  3,
		GenerationsToGenocide: 250,
		Elitism:               true,
		Selection:             Roulette,
		Crossover:             TwoPoints,
		CrossoverChance:       0.9,
		MutationChance:        0.03,
		ConstraintPenalty:     -1.0,
		Kp:                    0.9,
		GenerationGap:         0.6,
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks field ranges and the rules that span several fields.
func (c Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if !c.Pop.Type.valid() {
		problems = append(problems, fmt.Sprintf("pop_config.pop_type: unknown value %d", int(c.Pop.Type)))
	}
	if !c.Selection.valid() {
		problems = append(problems, fmt.Sprintf("selection_method: unknown value %d", int(c.Selection)))
	}
	if !c.Crossover.valid() {
		problems = append(problems, fmt.Sprintf("crossover_method: unknown value %d", int(c.Crossover)))
	}
	if c.Pop.Type.RequiresBounds() && c.Pop.Bounds == nil {
		problems = append(problems, fmt.Sprintf("pop_config.bounds: required for %s encoding", c.Pop.Type))
	}
	if c.Crossover.PermutationOnly() && c.Pop.Type != Permuted {
		problems = append(problems, fmt.Sprintf("crossover_method: %s requires Permuted encoding, got %s", c.Crossover, c.Pop.Type))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: must satisfy %s, got %v", field, fe.Tag(), fe.Value())
}
