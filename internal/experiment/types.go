package experiment

import "fmt"

// PopType is the chromosome encoding of a population.
type PopType int

const (
	Binary PopType = iota
	Real
	Integer
	Permuted
)

var popTypeNames = []string{"Binary", "Real", "Integer", "Permuted"}

func (t PopType) String() string {
	if t < 0 || int(t) >= len(popTypeNames) {
		return fmt.Sprintf("PopType(%d)", int(t))
	}
	return popTypeNames[t]
}

// RequiresBounds reports whether genes of this encoding need numeric bounds.
func (t PopType) RequiresBounds() bool {
	return t == Real || t == Integer
}

func (t PopType) valid() bool { return t >= Binary && t <= Permuted }

func (t PopType) MarshalText() ([]byte, error) {
	if !t.valid() {
		return nil, fmt.Errorf("unknown pop_type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *PopType) UnmarshalText(text []byte) error {
	v, err := lookup("pop_type", popTypeNames, string(text))
	if err != nil {
		return err
	}
	*t = PopType(v)
	return nil
}

// SelectionMethod picks parents in the evolutionary loop.
type SelectionMethod int

const (
	Roulette SelectionMethod = iota
	Tournament
)

var selectionNames = []string{"Roulette", "Tournament"}

func (s SelectionMethod) String() string {
	if s < 0 || int(s) >= len(selectionNames) {
		return fmt.Sprintf("SelectionMethod(%d)", int(s))
	}
	return selectionNames[s]
}

func (s SelectionMethod) valid() bool { return s >= Roulette && s <= Tournament }

func (s SelectionMethod) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("unknown selection_method %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *SelectionMethod) UnmarshalText(text []byte) error {
	v, err := lookup("selection_method", selectionNames, string(text))
	if err != nil {
		return err
	}
	*s = SelectionMethod(v)
	return nil
}

// CrossoverMethod recombines two parents.
type CrossoverMethod int

const (
	OnePoint CrossoverMethod = iota
	TwoPoints
	Uniform
	Cycle
	PartiallyMapped
)

var crossoverNames = []string{"OnePoint", "TwoPoints", "Uniform", "Cycle", "PartiallyMapped"}

func (c CrossoverMethod) String() string {
	if c < 0 || int(c) >= len(crossoverNames) {
		return fmt.Sprintf("CrossoverMethod(%d)", int(c))
	}
	return crossoverNames[c]
}

// PermutationOnly reports whether the operator is defined only for
// permutation chromosomes.
func (c CrossoverMethod) PermutationOnly() bool {
	return c == Cycle || c == PartiallyMapped
}

func (c CrossoverMethod) valid() bool { return c >= OnePoint && c <= PartiallyMapped }

func (c CrossoverMethod) MarshalText() ([]byte, error) {
	if !c.valid() {
		return nil, fmt.Errorf("unknown crossover_method %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *CrossoverMethod) UnmarshalText(text []byte) error {
	v, err := lookup("crossover_method", crossoverNames, string(text))
	if err != nil {
		return err
	}
	*c = CrossoverMethod(v)
	return nil
}

// lookup is case sensitive: the document vocabulary is closed.
func lookup(field string, names []string, s string) (int, error) {
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s: unknown value %q (want one of %v)", field, s, names)
}
