package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/eskit/internal/config"
	"github.com/copyleftdev/eskit/internal/logging"
)

// app carries what the subcommands share.
type app struct {
	cfg      *config.Config
	logLevel string
	logger   *zap.Logger
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg, logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "eskit",
		Short: "Evolution strategies on standard benchmark functions",
		Long: `eskit runs CMA-ES and its separable and step-size-only variants on
benchmark functions and reports how fast each run converges.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(&logging.Config{
				Level:  a.logLevel,
				Format: "console",
				Output: cfg.Logging.Output,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newFunctionsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
