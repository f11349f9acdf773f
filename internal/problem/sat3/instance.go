package sat3

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/copyleftdev/gaeval/internal/problem"
)

// Parse reads one clause per line: three whitespace separated signed
// integers. DIMACS comment ("c") and header ("p") lines are skipped, a
// trailing "0" terminator is accepted and a "%" line ends the formula.
func Parse(r io.Reader) ([][3]Literal, error) {
	var clauses [][3]Literal

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "p", strings.HasPrefix(fields[0], "c"):
			continue
		case fields[0] == "%":
			return clauses, nil
		case len(fields) == 1 && fields[0] == "0":
			continue
		}

		if len(fields) == 4 && fields[3] == "0" {
			fields = fields[:3]
		}
		if len(fields) != 3 {
			return nil, problem.Malformed(Name, line, "want 3 literals, got %d fields", len(fields))
		}

		var clause [3]Literal
		for k, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, problem.Malformed(Name, line, "literal %q is not an integer", f)
			}
			if v == 0 {
				return nil, problem.Malformed(Name, line, "literal 0 is not a variable")
			}
			clause[k] = Literal(v)
		}
		clauses = append(clauses, clause)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return clauses, nil
}

// LoadInstance parses the instance file at path.
func LoadInstance(path string) ([][3]Literal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Load parses path and builds the formula for chromosomes of length dim.
func Load(path string, dim int, opts ...Option) (*SAT3, error) {
	raw, err := LoadInstance(path)
	if err != nil {
		return nil, err
	}
	return New(raw, dim, opts...)
}
