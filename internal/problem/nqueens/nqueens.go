// Package nqueens places N queens on an N×N board. Gene i is the row of the
// queen in column i, so a permutation already keeps rows and columns
// distinct and only diagonals can clash.
package nqueens

import (
	"io"
	"math"
	"os"
	"strconv"

	"github.com/copyleftdev/gaeval/internal/problem"
)

const Name = "NQUEENS"

// Parse reads the board size, a single positive integer.
func Parse(r io.Reader) (int, error) {
	n, seen := 0, false
	err := problem.ScanFields(r, func(line int, f []string) error {
		if seen || len(f) != 1 {
			return problem.Malformed(Name, line, "want a single board size")
		}
		v, err := strconv.Atoi(f[0])
		if err != nil {
			return problem.Malformed(Name, line, "board size %q is not an integer", f[0])
		}
		if v <= 0 {
			return problem.OutOfRange(Name, line, "board size %d", v)
		}
		n, seen = v, true
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !seen {
		return 0, problem.Malformed(Name, 0, "empty instance")
	}
	return n, nil
}

// LoadInstance parses the instance file at path.
func LoadInstance(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Parse(f)
}

// Board scores queen placements on an n×n board.
type Board struct {
	n     int
	pairs float64
}

// New checks that the board matches the chromosome length.
func New(n, dim int) (*Board, error) {
	if n != dim {
		return nil, problem.OutOfRange(Name, 0, "board size %d does not match dimension %d", n, dim)
	}
	return &Board{n: n, pairs: float64(n*(n-1)) / 2}, nil
}

func (b *Board) rows(c problem.Chromosome) []int {
	rows := make([]int, b.n)
	for i := range rows {
		if i < len(c) {
			rows[i] = int(math.Round(c[i]))
		} else {
			rows[i] = -1
		}
	}
	return rows
}

// Objective counts queen pairs that do not attack each other.
func (b *Board) Objective(c problem.Chromosome) float64 {
	rows := b.rows(c)
	safe := 0
	for i := 0; i < b.n; i++ {
		for j := i + 1; j < b.n; j++ {
			d := rows[j] - rows[i]
			if d != 0 && d != j-i && d != i-j {
				safe++
			}
		}
	}
	return float64(safe)
}

// NormalizedObjective is the fraction of non-attacking pairs.
func (b *Board) NormalizedObjective(c problem.Chromosome) float64 {
	if b.pairs == 0 {
		return 1
	}
	return b.Objective(c) / b.pairs
}

// Constraint is the share of genes that break the permutation: rows off the
// board or repeated.
func (b *Board) Constraint(c problem.Chromosome) float64 {
	seen := make([]bool, b.n)
	bad := 0
	for _, r := range b.rows(c) {
		if r < 0 || r >= b.n || seen[r] {
			bad++
			continue
		}
		seen[r] = true
	}
	return float64(bad) / float64(b.n)
}
