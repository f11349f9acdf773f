// Package sat3 scores truth assignments against a 3-SAT formula.
package sat3

import (
	"runtime"
	"sync"

	"github.com/copyleftdev/gaeval/internal/problem"
)

// Name is the factory name of the problem.
const Name = "SAT-3"

// minChunk is the smallest clause range handed to a worker goroutine.
// Shorter formulas are scored on the calling goroutine.
const minChunk = 256

// Literal is a 1-based variable number; a negative sign negates it.
type Literal int

// SAT3 is an immutable 3-SAT formula. vars and negated are parallel:
// clause i is (vars[i][k] xor negated[i][k]) for k = 0..2, or-ed together.
type SAT3 struct {
	vars    [][3]int
	negated [][3]bool
	dim     int
	workers int
}

// Option configures a SAT3.
type Option func(*SAT3)

// WithWorkers bounds how many goroutines score one candidate. n <= 0
// restores the default of GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *SAT3) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		s.workers = n
	}
}

// New builds the clause encoding of raw for chromosomes of length dim.
// A zero literal or one whose variable exceeds dim is rejected here so
// evaluation never has to check.
func New(raw [][3]Literal, dim int, opts ...Option) (*SAT3, error) {
	s := &SAT3{
		vars:    make([][3]int, len(raw)),
		negated: make([][3]bool, len(raw)),
		dim:     dim,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, clause := range raw {
		for k, lit := range clause {
			if lit == 0 {
				return nil, problem.Malformed(Name, 0, "clause %d: literal 0 is not a variable", i+1)
			}
			if lit > Literal(dim) || lit < -Literal(dim) {
				return nil, problem.OutOfRange(Name, 0, "clause %d: literal %d exceeds dimension %d", i+1, lit, dim)
			}
			v := int(lit)
			if v < 0 {
				v = -v
			}
			s.vars[i][k] = v - 1
			s.negated[i][k] = lit < 0
		}
	}
	return s, nil
}

// Len is the number of clauses.
func (s *SAT3) Len() int { return len(s.vars) }

// Dim is the number of variables a candidate assigns.
func (s *SAT3) Dim() int { return s.dim }

// Objective counts the clauses c satisfies. Disjoint clause ranges are
// counted concurrently and the integer partial counts summed, so the result
// does not depend on the number of workers.
func (s *SAT3) Objective(c problem.Chromosome) float64 {
	n := len(s.vars)
	chunks := s.workers
	if limit := (n + minChunk - 1) / minChunk; chunks > limit {
		chunks = limit
	}
	if chunks <= 1 {
		return float64(s.count(c, 0, n))
	}

	partial := make([]int, chunks)
	size := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for w := 0; w < chunks; w++ {
		lo := w * size
		hi := min(lo+size, n)
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			partial[w] = s.count(c, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()

	total := 0
	for _, p := range partial {
		total += p
	}
	return float64(total)
}

// NormalizedObjective is the satisfied clause count itself.
func (s *SAT3) NormalizedObjective(c problem.Chromosome) float64 {
	return s.Objective(c)
}

// Constraint is always zero: every requirement lives in the objective.
func (s *SAT3) Constraint(problem.Chromosome) float64 {
	return 0
}

// Satisfied reports whether clause i holds under c.
func (s *SAT3) Satisfied(c problem.Chromosome, i int) bool {
	v, neg := s.vars[i], s.negated[i]
	return c.Bool(v[0]) != neg[0] ||
		c.Bool(v[1]) != neg[1] ||
		c.Bool(v[2]) != neg[2]
}

func (s *SAT3) count(c problem.Chromosome, lo, hi int) int {
	n := 0
	for i := lo; i < hi; i++ {
		if s.Satisfied(c, i) {
			n++
		}
	}
	return n
}
