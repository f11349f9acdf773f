// Package radio implements the radio production problem: choose how many
// units of each radio model a factory builds to maximize profit without
// exceeding the available labor.
package radio

import (
	"io"
	"math"
	"os"
	"strconv"

	"github.com/copyleftdev/gaeval/internal/problem"
)

const Name = "RADIO"

// maxBits keeps every decoded gene group exactly representable.
const maxBits = 30

// Product is one radio model on the production line.
type Product struct {
	Name     string
	Profit   float64
	Labor    float64
	MaxUnits int
}

// Instance lists the products and the labor available per day.
type Instance struct {
	Products []Product
	Capacity float64
}

// Parse reads "product <name> <profit> <labor> <max_units>" lines and a
// single "capacity <labor>" line.
func Parse(r io.Reader) (Instance, error) {
	var inst Instance
	capacitySeen := false

	err := problem.ScanFields(r, func(line int, f []string) error {
		switch f[0] {
		case "product":
			if len(f) != 5 {
				return problem.Malformed(Name, line, "product wants name, profit, labor and max units")
			}
			profit, err1 := strconv.ParseFloat(f[2], 64)
			labor, err2 := strconv.ParseFloat(f[3], 64)
			units, err3 := strconv.Atoi(f[4])
			if err1 != nil || err2 != nil || err3 != nil {
				return problem.Malformed(Name, line, "product %s: non numeric field", f[1])
			}
			if profit < 0 || labor < 0 || units < 0 {
				return problem.OutOfRange(Name, line, "product %s: negative value", f[1])
			}
			inst.Products = append(inst.Products, Product{Name: f[1], Profit: profit, Labor: labor, MaxUnits: units})
		case "capacity":
			if len(f) != 2 || capacitySeen {
				return problem.Malformed(Name, line, "want exactly one capacity value")
			}
			c, err := strconv.ParseFloat(f[1], 64)
			if err != nil {
				return problem.Malformed(Name, line, "capacity %q is not a number", f[1])
			}
			if c < 0 {
				return problem.OutOfRange(Name, line, "negative capacity %v", c)
			}
			inst.Capacity = c
			capacitySeen = true
		default:
			return problem.Malformed(Name, line, "unknown directive %q", f[0])
		}
		return nil
	})
	if err != nil {
		return Instance{}, err
	}
	if len(inst.Products) == 0 {
		return Instance{}, problem.Malformed(Name, 0, "no products")
	}
	if !capacitySeen {
		return Instance{}, problem.Malformed(Name, 0, "missing capacity")
	}
	return inst, nil
}

// LoadInstance parses the instance file at path.
func LoadInstance(path string) (Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return Instance{}, err
	}
	defer f.Close()
	return Parse(f)
}

// Radio scores binary chromosomes. Each product owns an equal, contiguous
// group of bits, read most significant bit first and scaled to MaxUnits.
type Radio struct {
	inst        Instance
	bits        int
	maxProfit   float64
	maxOverflow float64
}

// New checks that dim splits evenly across the products.
func New(inst Instance, dim int) (*Radio, error) {
	n := len(inst.Products)
	if n == 0 {
		return nil, problem.Malformed(Name, 0, "no products")
	}
	if dim%n != 0 || dim/n == 0 || dim/n > maxBits {
		return nil, problem.OutOfRange(Name, 0, "dimension %d cannot hold %d products of 1..%d bits", dim, n, maxBits)
	}

	r := &Radio{inst: inst, bits: dim / n}
	labor := 0.0
	for _, p := range inst.Products {
		r.maxProfit += p.Profit * float64(p.MaxUnits)
		labor += p.Labor * float64(p.MaxUnits)
	}
	r.maxOverflow = math.Max(1, labor-inst.Capacity)
	return r, nil
}

// Units decodes c into units built per product.
func (r *Radio) Units(c problem.Chromosome) []int {
	full := float64(uint64(1)<<r.bits - 1)
	units := make([]int, len(r.inst.Products))
	for i, p := range r.inst.Products {
		var v uint64
		for b := 0; b < r.bits; b++ {
			v <<= 1
			if c.Bool(i*r.bits + b) {
				v |= 1
			}
		}
		units[i] = int(math.Round(float64(p.MaxUnits) * float64(v) / full))
	}
	return units
}

// Objective is the daily profit.
func (r *Radio) Objective(c problem.Chromosome) float64 {
	profit := 0.0
	for i, u := range r.Units(c) {
		profit += r.inst.Products[i].Profit * float64(u)
	}
	return profit
}

// NormalizedObjective is the profit as a fraction of the best unconstrained
// profit.
func (r *Radio) NormalizedObjective(c problem.Chromosome) float64 {
	if r.maxProfit == 0 {
		return 0
	}
	return r.Objective(c) / r.maxProfit
}

// Constraint is the labor used beyond capacity, scaled by the worst possible
// overflow.
func (r *Radio) Constraint(c problem.Chromosome) float64 {
	used := 0.0
	for i, u := range r.Units(c) {
		used += r.inst.Products[i].Labor * float64(u)
	}
	return math.Max(0, used-r.inst.Capacity) / r.maxOverflow
}
