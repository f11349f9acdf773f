// Command gaeval loads optimization problems and scores candidate solutions,
// either once from the command line or as a long running HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/gaeval/internal/config"
	"github.com/copyleftdev/gaeval/internal/factory"
	"github.com/copyleftdev/gaeval/internal/logging"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the root command has read
// the environment.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "gaeval",
		Short: "Score candidate solutions of combinatorial optimization problems",
		Long: `gaeval is the fitness evaluation layer of an evolutionary experiment
runner. It builds a problem from an instance file and an experiment
configuration and reports objective, constraint violation and penalized
fitness for candidate chromosomes.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err := logging.NewLogger(&logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
	}

	root.AddCommand(a.problemsCmd(), a.evaluateCmd(), a.serveCmd())
	return root
}

func (a *app) problemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "problems",
		Short: "List the problems that can be built",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range factory.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
