// Package cmd provides the CLI commands for veldt.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/veldt-db/veldt/internal/logging"
	"github.com/veldt-db/veldt/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the veldt CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "veldt",
		Short: "Append-only tiered HNSW vector index storage engine",
		Long: `veldt packs streamed vectors into immutable block files and grows an
HNSW proximity graph over them, with a uniform read path spanning the
committed, sealed, flushed and building lifecycle tiers.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := logging.DefaultConfig()
			if debugMode {
				cfg.Level = "debug"
			}
			logger, cleanup, err := logging.Setup(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.SetVersionTemplate("veldt version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewBenchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
