// Package cli provides the command-line interface for tablesync.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nwdata/tablesync/internal/cli/config"
	"github.com/nwdata/tablesync/internal/engine"

	// Destination adapters register themselves on import.
	_ "github.com/nwdata/tablesync/internal/destination/databricks"
	_ "github.com/nwdata/tablesync/internal/destination/objectstore"
	_ "github.com/nwdata/tablesync/internal/destination/postgres"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tablesync",
		Short: "tablesync - incremental table synchronization",
		Long: `tablesync copies changed rows from a DuckDB database to a configured
destination (a PostgreSQL database, an S3-compatible object store, or a
Databricks lakehouse), ordering tables so foreign-key parents load first
and tracking progress in a run ledger inside the source database.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			var err error
			cfg, err = config.LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			logger = newLogger(cfg)

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					fmt.Fprintf(os.Stderr, "Using config file: %s\n", configFile)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tablesync.yaml)")
	rootCmd.PersistentFlags().StringP("source", "s", "", "Path to the source DuckDB database")
	rootCmd.PersistentFlags().Int("batch-size", 0, "Rows per destination write")
	rootCmd.PersistentFlags().Int("max-attempts", 0, "Write attempts per batch")
	rootCmd.PersistentFlags().Bool("strict", false, "Skip tables whose upstream table failed")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text|json)")

	// Destination flags, mapped into the destination.* config namespace
	rootCmd.PersistentFlags().String("destination-type", "", "Destination type (supabase|s3|databricks)")
	rootCmd.PersistentFlags().String("destination-host", "", "Destination host")
	rootCmd.PersistentFlags().Int("destination-port", 0, "Destination port")
	rootCmd.PersistentFlags().String("destination-database", "", "Destination database name")
	rootCmd.PersistentFlags().String("destination-schema", "", "Destination schema")
	rootCmd.PersistentFlags().String("destination-user", "", "Destination user")
	rootCmd.PersistentFlags().String("destination-endpoint", "", "Object store endpoint")
	rootCmd.PersistentFlags().String("destination-bucket", "", "Object store bucket")
	rootCmd.PersistentFlags().String("destination-prefix", "", "Object key prefix")
	rootCmd.PersistentFlags().String("destination-http-path", "", "Databricks warehouse HTTP path")
	rootCmd.PersistentFlags().String("destination-catalog", "", "Databricks catalog")

	_ = rootCmd.RegisterFlagCompletionFunc("destination-type", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"supabase", "s3", "databricks"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newTablesCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// newLogger builds the process logger from the loaded configuration.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// engineConfig maps the CLI configuration onto the engine's.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		SourcePath:       cfg.SourcePath,
		Destination:      cfg.Destination,
		BatchSize:        cfg.BatchSize,
		MaxAttempts:      cfg.MaxAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		BatchTimeout:     cfg.BatchTimeout,
		Strict:           cfg.Strict,
		WarnFullLoadRows: cfg.WarnFullLoadRows,
		UpdateColumns:    cfg.UpdateColumns,
		Logger:           logger,
	}
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
