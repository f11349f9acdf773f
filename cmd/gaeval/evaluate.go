package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/gaeval/internal/experiment"
	"github.com/copyleftdev/gaeval/internal/factory"
	"github.com/copyleftdev/gaeval/internal/logging"
	"github.com/copyleftdev/gaeval/internal/problem"
)

type evaluateOptions struct {
	problem    string
	instance   string
	config     string
	candidates []string
	random     int
	seed       uint64
	output     string
	runLog     string
}

type candidateResult struct {
	Genes problem.Chromosome `json:"genes"`
	problem.Evaluation
	Feasible bool `json:"feasible"`
}

type report struct {
	Problem     string            `json:"problem"`
	Instance    string            `json:"instance"`
	Config      experiment.Config `json:"config"`
	Seed        uint64            `json:"seed,omitempty"`
	Evaluations []candidateResult `json:"evaluations"`
	Best        int               `json:"best"`
}

func (a *app) evaluateCmd() *cobra.Command {
	o := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score candidates against a problem instance",
		Long: `Builds the named problem from an instance file and an experiment
configuration, then evaluates the candidates given with --candidate and/or
--random. Instance and configuration names that do not exist as given are
looked up under the data directory (instances/<problem>/ and config/).`,
		Example: `  gaeval evaluate -p SAT-3 -i uf20-01.cnf -c sat3.json --candidate "1 0 1 1 ..."
  gaeval evaluate -p NQUEENS -i queens8.txt -c queens.yaml --random 20 --seed 7 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEvaluate(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.problem, "problem", "p", "", "problem name, see 'gaeval problems'")
	f.StringVarP(&o.instance, "instance", "i", "", "instance file")
	f.StringVarP(&o.config, "config", "c", "", "experiment configuration document (JSON or YAML)")
	f.StringArrayVar(&o.candidates, "candidate", nil, "candidate genes separated by spaces or commas (repeatable)")
	f.IntVar(&o.random, "random", 0, "number of random candidates to evaluate")
	f.Uint64Var(&o.seed, "seed", 0, "seed for --random; 0 picks one from the clock")
	f.StringVarP(&o.output, "output", "o", "auto", "output format: text, json or auto")
	f.StringVar(&o.runLog, "run-log", "", "directory for a per run JSON log file")
	_ = cmd.MarkFlagRequired("problem")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func (a *app) runEvaluate(cmd *cobra.Command, o *evaluateOptions) error {
	out := cmd.OutOrStdout()
	format, err := outputFormat(o.output, out)
	if err != nil {
		return err
	}
	if o.random < 0 {
		return fmt.Errorf("--random must not be negative, got %d", o.random)
	}

	dataDir := a.cfg.Evaluation.DataDir
	instancePath := resolveFile(o.instance, dataDir, "instances", strings.ToLower(strings.TrimSpace(o.problem)))
	configPath := resolveFile(o.config, dataDir, "config")

	start := time.Now()
	p, cfg, err := factory.Build(o.problem, instancePath, configPath, factory.WithWorkers(a.cfg.Evaluation.Workers))
	if err != nil {
		a.logger.Error("Failed to build problem", map[string]interface{}{"error": err.Error()})
		return err
	}

	candidates := make([]problem.Chromosome, 0, len(o.candidates)+o.random)
	for i, text := range o.candidates {
		c, err := parseCandidate(text)
		if err != nil {
			return fmt.Errorf("candidate %d: %w", i+1, err)
		}
		candidates = append(candidates, c)
	}

	seed := o.seed
	if o.random > 0 {
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		rng := rand.New(rand.NewPCG(seed, seed>>32))
		for i := 0; i < o.random; i++ {
			candidates = append(candidates, problem.Sample(cfg, rng))
		}
	} else {
		seed = 0
	}

	if len(candidates) == 0 {
		return errors.New("no candidates: pass --candidate or --random")
	}
	for i, c := range candidates {
		if len(c) != cfg.Pop.Dim {
			return fmt.Errorf("candidate %d has %d genes, the configuration declares %d", i+1, len(c), cfg.Pop.Dim)
		}
	}

	evals, err := p.EvaluateAll(cmd.Context(), candidates, a.cfg.Evaluation.Workers)
	if err != nil {
		return err
	}

	rep := report{
		Problem:     p.Name(),
		Instance:    instancePath,
		Config:      cfg,
		Seed:        seed,
		Evaluations: make([]candidateResult, len(evals)),
	}
	for i, ev := range evals {
		rep.Evaluations[i] = candidateResult{Genes: candidates[i], Evaluation: ev, Feasible: ev.Feasible()}
		if ev.Fitness > evals[rep.Best].Fitness {
			rep.Best = i
		}
	}

	a.logger.Info("Evaluation finished", map[string]interface{}{
		"problem":    p.Name(),
		"candidates": len(evals),
		"best":       evals[rep.Best].Fitness,
		"elapsed_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	})

	if o.runLog != "" {
		if err := writeRunLog(o.runLog, configPath, rep); err != nil {
			return err
		}
	}

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return writeText(out, rep)
}

// resolveFile returns name itself when it exists; otherwise a bare file name
// is looked up under dataDir/sub.
func resolveFile(name, dataDir string, sub ...string) string {
	if _, err := os.Stat(name); err == nil || filepath.Base(name) != name {
		return name
	}
	candidate := filepath.Join(append(append([]string{dataDir}, sub...), name)...)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return name
}

func parseCandidate(text string) (problem.Chromosome, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	c := make(problem.Chromosome, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("gene %d: %q is not a number", i+1, f)
		}
		c[i] = v
	}
	return c, nil
}

func outputFormat(flag string, w io.Writer) (string, error) {
	switch flag {
	case "text", "json":
		return flag, nil
	case "", "auto":
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			return "text", nil
		}
		return "json", nil
	default:
		return "", fmt.Errorf("unknown output format %q, want text, json or auto", flag)
	}
}

func writeText(w io.Writer, rep report) error {
	fmt.Fprintf(w, "problem %s  dim %d  encoding %s  penalty %g\n",
		rep.Problem, rep.Config.Pop.Dim, rep.Config.Pop.Type, rep.Config.ConstraintPenalty)
	if rep.Seed != 0 {
		fmt.Fprintf(w, "seed %d\n", rep.Seed)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tobjective\tnormalized\tconstraint\tfitness\tfeasible\t")
	for i, r := range rep.Evaluations {
		fmt.Fprintf(tw, "%d\t%.6g\t%.6g\t%.6g\t%.6g\t%t\t\n",
			i+1, r.Objective, r.NormalizedObjective, r.Constraint, r.Fitness, r.Feasible)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "best #%d fitness %.6g\n", rep.Best+1, rep.Evaluations[rep.Best].Fitness)
	return err
}

// writeRunLog records the run in <dir>/<problem>-<timestamp>.log.
func writeRunLog(dir, configPath string, rep report) (err error) {
	f, err := logging.OpenFile(logging.RunLogPath(dir, rep.Problem, time.Now()))
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close run log: %w", cerr)
		}
	}()
	runLogger := logging.New(logging.InfoLevel, f).WithField("problem", rep.Problem)

	runLogger.Info("Run started", map[string]interface{}{
		"instance":   rep.Instance,
		"config":     configPath,
		"dim":        rep.Config.Pop.Dim,
		"pop_type":   rep.Config.Pop.Type.String(),
		"penalty":    rep.Config.ConstraintPenalty,
		"candidates": len(rep.Evaluations),
	})
	for i, r := range rep.Evaluations {
		runLogger.Info("Candidate evaluated", map[string]interface{}{
			"index":      i + 1,
			"objective":  r.Objective,
			"normalized": r.NormalizedObjective,
			"constraint": r.Constraint,
			"fitness":    r.Fitness,
		})
	}
	runLogger.Info("Run finished", map[string]interface{}{
		"best":         rep.Best + 1,
		"best_fitness": rep.Evaluations[rep.Best].Fitness,
	})
	return nil
}
