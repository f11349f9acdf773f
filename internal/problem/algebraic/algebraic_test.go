package algebraic

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gaeval/internal/experiment"
	"github.com/copyleftdev/gaeval/internal/problem"
)

// quadratic samples y = 1 + 2x + 3x^2 on x = -2..2.
func quadratic() []Point {
	var pts []Point
	for x := -2.0; x <= 2.0; x += 0.5 {
		pts = append(pts, Point{X: x, Y: 1 + 2*x + 3*x*x})
	}
	return pts
}

func TestParse(t *testing.T) {
	pts, err := Parse(strings.NewReader("# x y\n0 1\n1.5 -2.25\n\n-3e-1 4\n"))
	require.NoError(t, err)
	assert.Equal(t, []Point{{0, 1}, {1.5, -2.25}, {-0.3, 4}}, pts)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "# nothing\n", problem.ErrMalformedClause},
		{"one field", "1\n", problem.ErrMalformedClause},
		{"three fields", "1 2 3\n", problem.ErrMalformedClause},
		{"text", "x y\n", problem.ErrMalformedClause},
		{"infinite", "1 +Inf\n", problem.ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLeastSquaresRecoversPolynomial(t *testing.T) {
	f, err := New(quadratic(), 3, nil)
	require.NoError(t, err)

	best := f.Best()
	require.Len(t, best, 3)
	assert.InDelta(t, 1.0, best[0], 1e-9)
	assert.InDelta(t, 2.0, best[1], 1e-9)
	assert.InDelta(t, 3.0, best[2], 1e-9)
	assert.InDelta(t, 0.0, f.BestMSE(), 1e-18)
}

func TestScores(t *testing.T) {
	f, err := New(quadratic(), 3, nil)
	require.NoError(t, err)

	exact := problem.Chromosome{1, 2, 3}
	assert.InDelta(t, 0.0, f.Objective(exact), 1e-12)
	assert.InDelta(t, 1.0, f.NormalizedObjective(exact), 1e-6)
	assert.Equal(t, 0.0, f.Constraint(exact))

	zero := problem.Chromosome{0, 0, 0}
	want := 0.0
	for _, p := range quadratic() {
		want += p.Y * p.Y
	}
	want /= float64(len(quadratic()))
	assert.InDelta(t, -want, f.Objective(zero), 1e-9)
	assert.Less(t, f.NormalizedObjective(zero), 1e-6)
	assert.Greater(t, f.NormalizedObjective(zero), 0.0)

	// Missing high order coefficients read as zero.
	assert.Equal(t, f.Objective(problem.Chromosome{1, 2, 0}), f.Objective(problem.Chromosome{1, 2}))
}

func TestNormalizedObjectiveOrdersCandidates(t *testing.T) {
	pts := quadratic()
	pts = append(pts, Point{X: 0.25, Y: 5})
	f, err := New(pts, 2, nil)
	require.NoError(t, err)

	best := f.Best()
	worse := problem.Chromosome{best[0] + 0.5, best[1]}
	worst := problem.Chromosome{best[0] + 5, best[1] - 3}

	nb, nw, nx := f.NormalizedObjective(best), f.NormalizedObjective(worse), f.NormalizedObjective(worst)
	assert.InDelta(t, 1.0, nb, 1e-9)
	assert.Greater(t, nb, nw)
	assert.Greater(t, nw, nx)
	assert.Greater(t, f.Objective(best), f.Objective(worse))
}

func TestConstraintBounds(t *testing.T) {
	f, err := New(quadratic(), 3, &experiment.Bounds{Lower: -1, Upper: 2.5})
	require.NoError(t, err)

	assert.Equal(t, 0.0, f.Constraint(problem.Chromosome{1, 2, 2.5}))
	assert.InDelta(t, 0.5, f.Constraint(problem.Chromosome{1, 2, 3}), 1e-12)
	assert.InDelta(t, 2.5, f.Constraint(problem.Chromosome{-3, 2, 3}), 1e-12)

	cfg := experiment.Default()
	cfg.ConstraintPenalty = -2
	p := problem.New(Name, f, cfg)
	ev := p.Evaluate(problem.Chromosome{1, 2, 3})
	assert.Equal(t, ev.NormalizedObjective-2*ev.Constraint, ev.Fitness)
}

func TestOverflowingCandidateStaysFinite(t *testing.T) {
	f, err := New(quadratic(), 2, &experiment.Bounds{Lower: -10, Upper: 10})
	require.NoError(t, err)
	p := problem.New(Name, f, experiment.Default())

	for _, c := range []problem.Chromosome{{1e200, 1e200}, {math.MaxFloat64, -math.MaxFloat64}} {
		ev := p.Evaluate(c)
		for _, v := range []float64{ev.Objective, ev.NormalizedObjective, ev.Constraint, ev.Fitness} {
			assert.False(t, math.IsInf(v, 0) || math.IsNaN(v), "%v scored %+v", c, ev)
		}
		assert.Equal(t, -math.MaxFloat64, ev.Objective)
		assert.Equal(t, 0.0, ev.NormalizedObjective)
	}
}

func TestConcurrentEvaluationMatchesSequential(t *testing.T) {
	f, err := New(quadratic(), 3, nil)
	require.NoError(t, err)
	p := problem.New(Name, f, experiment.Default())

	var candidates []problem.Chromosome
	for i := 0; i < 200; i++ {
		v := float64(i) / 50
		candidates = append(candidates, problem.Chromosome{v, 2 - v, 3 + v/2})
	}

	got, err := p.EvaluateAll(context.Background(), candidates, 8)
	require.NoError(t, err)
	for i, c := range candidates {
		assert.Equal(t, p.Evaluate(c), got[i])
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, 3, nil)
	assert.ErrorIs(t, err, problem.ErrMalformedClause)

	_, err = New(quadratic(), 0, nil)
	assert.ErrorIs(t, err, problem.ErrOutOfRange)
}

func ExampleFit_Best() {
	f, _ := New([]Point{{0, 1}, {1, 3}, {2, 5}}, 2, nil)
	b := f.Best()
	fmt.Printf("%.3f %.3f\n", b[0], b[1])
	// Output: 1.000 2.000
}
