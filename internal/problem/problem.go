// Package problem defines what the evolutionary loop needs from an
// optimization target: a way to score a candidate solution.
package problem

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/gaeval/internal/experiment"
)

// Chromosome is one candidate solution. Binary genes are 0 or 1, integer
// genes are whole numbers and permutation genes are indices.
type Chromosome []float64

// Bool reads gene i as a boolean. Genes past the end read as false.
func (c Chromosome) Bool(i int) bool {
	return i >= 0 && i < len(c) && c[i] != 0
}

// Model is implemented by every concrete optimization target. Implementations
// must be safe for concurrent use and must not modify the candidate.
type Model interface {
	// Objective is the raw quality of c; higher is better.
	Objective(c Chromosome) float64
	// NormalizedObjective rescales Objective into a range comparable across
	// instances. It may equal Objective.
	NormalizedObjective(c Chromosome) float64
	// Constraint is the non-negative violation of c; 0 means feasible.
	Constraint(c Chromosome) float64
}

// Evaluation holds every score of one candidate.
type Evaluation struct {
	Objective           float64 `json:"objective"`
	NormalizedObjective float64 `json:"normalized_objective"`
	Constraint          float64 `json:"constraint"`
	Fitness             float64 `json:"fitness"`
}

// Feasible reports whether the candidate violated no constraint.
func (e Evaluation) Feasible() bool {
	return e.Constraint == 0
}

// Problem binds a Model to the penalty coefficient of the active
// configuration. It is immutable and safe for concurrent use.
type Problem struct {
	name    string
	model   Model
	penalty float64
}

// New returns the named problem scored with cfg.ConstraintPenalty.
func New(name string, model Model, cfg experiment.Config) *Problem {
	return &Problem{
		name:    name,
		model:   model,
		penalty: cfg.ConstraintPenalty,
	}
}

// Name is the registered name of the problem.
func (p *Problem) Name() string { return p.name }

// Model returns the underlying target.
func (p *Problem) Model() Model { return p.model }

// Penalty is the coefficient applied to the constraint violation.
func (p *Problem) Penalty() float64 { return p.penalty }

func (p *Problem) Objective(c Chromosome) float64 { return p.model.Objective(c) }

func (p *Problem) NormalizedObjective(c Chromosome) float64 { return p.model.NormalizedObjective(c) }

func (p *Problem) Constraint(c Chromosome) float64 { return p.model.Constraint(c) }

// Fitness is the linear exterior penalty of the normalized objective:
// NormalizedObjective(c) + penalty*Constraint(c).
func (p *Problem) Fitness(c Chromosome) float64 {
	return fitness(p.model.NormalizedObjective(c), p.penalty, p.model.Constraint(c))
}

// Evaluate computes all scores of c at once.
func (p *Problem) Evaluate(c Chromosome) Evaluation {
	norm := p.model.NormalizedObjective(c)
	cons := p.model.Constraint(c)
	return Evaluation{
		Objective:           p.model.Objective(c),
		NormalizedObjective: norm,
		Constraint:          cons,
		Fitness:             fitness(norm, p.penalty, cons),
	}
}

func fitness(norm, penalty, constraint float64) float64 {
	return norm + penalty*constraint
}

// EvaluateAll scores candidates on at most workers goroutines and returns
// the results in input order. workers <= 0 means GOMAXPROCS. Cancelling ctx
// stops scheduling new candidates; candidates already running finish.
func (p *Problem) EvaluateAll(ctx context.Context, candidates []Chromosome, workers int) ([]Evaluation, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]Evaluation, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = p.Evaluate(c)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", p.name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", p.name, err)
	}
	return out, nil
}
