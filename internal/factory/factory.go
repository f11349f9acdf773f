// Package factory maps problem names to constructors that read an instance
// file and produce a ready Problem bound to its experiment configuration.
package factory

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/copyleftdev/gaeval/internal/errors"
	"github.com/copyleftdev/gaeval/internal/experiment"
	"github.com/copyleftdev/gaeval/internal/problem"
	"github.com/copyleftdev/gaeval/internal/problem/algebraic"
	"github.com/copyleftdev/gaeval/internal/problem/nqueens"
	"github.com/copyleftdev/gaeval/internal/problem/radio"
	"github.com/copyleftdev/gaeval/internal/problem/sat3"
)

var (
	ErrUnknownProblem    = errors.New("unknown problem")
	ErrInstanceParse     = errors.New("instance parse failure")
	ErrAlreadyRegistered = errors.New("problem already registered")
)

// Options tune how a constructor builds its model.
type Options struct {
	// Workers bounds the goroutines a model may use for a single evaluation.
	Workers int
}

type Option func(*Options)

// WithWorkers sets Options.Workers. Values below 1 select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// Constructor reads the instance at instancePath and builds a model sized
// for cfg.
type Constructor func(instancePath string, cfg experiment.Config, opts Options) (problem.Model, error)

var registry = struct {
	mu sync.RWMutex
	m  map[string]Constructor
}{
	m: map[string]Constructor{
		sat3.Name:      newSAT3,
		radio.Name:     newRadio,
		algebraic.Name: newAlgebraic,
		nqueens.Name:   newNQueens,
	},
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Register adds a constructor under name. Names are case-insensitive.
func Register(name string, ctor Constructor) error {
	key := normalize(name)
	if key == "" {
		return errors.New("problem name is required")
	}
	if ctor == nil {
		return errors.New("constructor is required")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.m[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	registry.m[key] = ctor
	return nil
}

// Names lists the registered problems in sorted order.
func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Constructor, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	ctor, ok := registry.m[name]
	return ctor, ok
}

// Build loads the configuration at configPath and the instance at
// instancePath and returns the named problem. The returned Config is the
// loaded document unchanged.
func Build(name, instancePath, configPath string, opts ...Option) (*problem.Problem, experiment.Config, error) {
	key := normalize(name)
	ctor, ok := lookup(key)
	if !ok {
		return nil, experiment.Config{}, fail(fmt.Errorf("%w: %q", ErrUnknownProblem, name), "")
	}

	cfg, err := experiment.Load(configPath)
	if err != nil {
		return nil, experiment.Config{}, fail(err, "%s configuration", key)
	}

	o := Options{Workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Workers < 1 {
		o.Workers = runtime.GOMAXPROCS(0)
	}

	model, err := ctor(instancePath, cfg, o)
	if err != nil {
		return nil, experiment.Config{}, fail(fmt.Errorf("%w: %w", ErrInstanceParse, err), "%s instance %s", key, instancePath)
	}
	return problem.New(key, model, cfg), cfg, nil
}

func fail(err error, format string, args ...interface{}) error {
	return apperrors.Wrapf(err, format, args...).WithComponent("factory").WithOperation("build")
}

func newSAT3(path string, cfg experiment.Config, o Options) (problem.Model, error) {
	return sat3.Load(path, cfg.Pop.Dim, sat3.WithWorkers(o.Workers))
}

func newRadio(path string, cfg experiment.Config, _ Options) (problem.Model, error) {
	inst, err := radio.LoadInstance(path)
	if err != nil {
		return nil, err
	}
	return radio.New(inst, cfg.Pop.Dim)
}

func newAlgebraic(path string, cfg experiment.Config, _ Options) (problem.Model, error) {
	points, err := algebraic.LoadInstance(path)
	if err != nil {
		return nil, err
	}
	return algebraic.New(points, cfg.Pop.Dim, cfg.Pop.Bounds)
}

func newNQueens(path string, cfg experiment.Config, _ Options) (problem.Model, error) {
	n, err := nqueens.LoadInstance(path)
	if err != nil {
		return nil, err
	}
	return nqueens.New(n, cfg.Pop.Dim)
}
