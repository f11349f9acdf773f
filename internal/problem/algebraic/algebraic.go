// Package algebraic fits a polynomial to sampled points. A chromosome holds
// the polynomial coefficients, constant term first.
package algebraic

import (
	"errors"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/gaeval/internal/experiment"
	"github.com/copyleftdev/gaeval/internal/problem"
)

const Name = "ALGEBRAIC-FUNCTION"

// eps keeps the normalized objective finite when a fit is exact.
const eps = 1e-12

// Point is one sample of the target curve.
type Point struct {
	X, Y float64
}

// Parse reads one "x y" pair per line.
func Parse(r io.Reader) ([]Point, error) {
	var points []Point
	err := problem.ScanFields(r, func(line int, f []string) error {
		if len(f) != 2 {
			return problem.Malformed(Name, line, "want x and y, got %d fields", len(f))
		}
		x, err1 := strconv.ParseFloat(f[0], 64)
		y, err2 := strconv.ParseFloat(f[1], 64)
		if err1 != nil || err2 != nil {
			return problem.Malformed(Name, line, "non numeric sample %q %q", f[0], f[1])
		}
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			return problem.OutOfRange(Name, line, "sample must be finite")
		}
		points = append(points, Point{X: x, Y: y})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, problem.Malformed(Name, 0, "no samples")
	}
	return points, nil
}

// LoadInstance parses the instance file at path.
func LoadInstance(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Fit scores coefficient vectors by mean squared error against the samples.
type Fit struct {
	xs, ys  []float64
	dim     int
	bounds  *experiment.Bounds
	bestMSE float64
	best    []float64

	// residuals recycles the per evaluation buffers; Fit is shared by
	// concurrent workers.
	residuals sync.Pool
}

// New prepares a fit of a polynomial with dim coefficients. bounds, if not
// nil, limits every coefficient; excursions are reported as constraint
// violation.
func New(points []Point, dim int, bounds *experiment.Bounds) (*Fit, error) {
	if len(points) == 0 {
		return nil, problem.Malformed(Name, 0, "no samples")
	}
	if dim <= 0 {
		return nil, problem.OutOfRange(Name, 0, "dimension %d", dim)
	}

	f := &Fit{
		xs:     make([]float64, len(points)),
		ys:     make([]float64, len(points)),
		dim:    dim,
		bounds: bounds,
	}
	for i, p := range points {
		f.xs[i], f.ys[i] = p.X, p.Y
	}
	n := len(points)
	f.residuals.New = func() interface{} {
		buf := make([]float64, n)
		return &buf
	}

	best, err := leastSquares(f.xs, f.ys, dim)
	if err != nil {
		return nil, problem.OutOfRange(Name, 0, "samples do not determine a degree %d polynomial: %v", dim-1, err)
	}
	f.best = best
	f.bestMSE = f.mse(best)
	return f, nil
}

// leastSquares solves the Vandermonde system V·c = y with QR.
func leastSquares(xs, ys []float64, dim int) ([]float64, error) {
	v := mat.NewDense(len(xs), dim, nil)
	for i, x := range xs {
		p := 1.0
		for j := 0; j < dim; j++ {
			v.Set(i, j, p)
			p *= x
		}
	}

	var c mat.VecDense
	if err := c.SolveVec(v, mat.NewVecDense(len(ys), append([]float64(nil), ys...))); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	return mat.Col(nil, 0, &c), nil
}

// Best returns the least squares coefficients.
func (f *Fit) Best() problem.Chromosome {
	return append(problem.Chromosome(nil), f.best...)
}

// BestMSE is the smallest mean squared error any coefficient vector reaches.
func (f *Fit) BestMSE() float64 { return f.bestMSE }

func (f *Fit) eval(c []float64, x float64) float64 {
	n := min(len(c), f.dim)
	y := 0.0
	for i := n - 1; i >= 0; i-- {
		y = y*x + c[i]
	}
	return y
}

func (f *Fit) mse(c []float64) float64 {
	buf := f.residuals.Get().(*[]float64)
	defer f.residuals.Put(buf)

	res := *buf
	for i, x := range f.xs {
		res[i] = f.eval(c, x) - f.ys[i]
	}
	return finite(floats.Dot(res, res) / float64(len(res)))
}

// finite clamps overflowed scores to the largest representable magnitude.
func finite(v float64) float64 {
	switch {
	case math.IsNaN(v), math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

// Objective is the negated mean squared error.
func (f *Fit) Objective(c problem.Chromosome) float64 {
	return -f.mse(c)
}

// NormalizedObjective compares c with the least squares optimum: 1 for an
// optimal fit, approaching 0 as the error grows.
func (f *Fit) NormalizedObjective(c problem.Chromosome) float64 {
	mse := f.mse(c)
	if mse == math.MaxFloat64 {
		return 0
	}
	return math.Min(1, (f.bestMSE+eps)/(mse+eps))
}

// Constraint sums how far coefficients lie outside the configured bounds.
func (f *Fit) Constraint(c problem.Chromosome) float64 {
	if f.bounds == nil {
		return 0
	}
	excess := 0.0
	for i := 0; i < min(len(c), f.dim); i++ {
		switch {
		case c[i] > f.bounds.Upper:
			excess += c[i] - f.bounds.Upper
		case c[i] < f.bounds.Lower:
			excess += f.bounds.Lower - c[i]
		}
	}
	return finite(excess)
}
