package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cobaltdata/schemaport/internal/config"
	"github.com/cobaltdata/schemaport/internal/provider"

	// Engines register themselves with the provider factory.
	_ "github.com/cobaltdata/schemaport/internal/provider/libsql"
	_ "github.com/cobaltdata/schemaport/internal/provider/sqlite"
)

var (
	flagConfig  string
	flagLogFile string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "spt",
	Short: "Schemaport - dependency-ordered schema migration",
	Long: `Schemaport scripts a database catalog into ordered migration artifacts
and replays them against a target in dependency order.

Generation enumerates the source catalog, partitions objects into
deployment buckets (schemas before tables, tables before views, views
before foreign keys, data last), and scripts each unit across a worker
pool. Replay walks the bucket directories in order, retrying
reference-prone buckets across passes, and validates foreign keys after
the data load instead of tripping over them during it.

Typical flow:
  spt init                          # write a starter config
  spt generate --source app.db      # script the catalog to ./migration
  spt plan --source app.db          # preview the run without writing SQL
  spt apply --target libsql://...   # replay artifacts on the target
  spt verify --target libsql://...  # re-check constraints any time

Configuration is read from schemaport.yaml in the working directory (or
--config), then overridden by SPT_* environment variables and flags.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default: schemaport.yaml in working directory)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Route logs to a rotating file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log pipeline stages to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "daemon", Title: "Daemon Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)
}

// loadConfig resolves the run configuration from file, environment, and
// the persistent flags. Command-specific flag overrides happen at each
// call site.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	return cfg, nil
}

// newLogger builds a command logger. Verbose runs log to stderr, a
// configured log file adds rotation via lumberjack, and with neither the
// logs are discarded so command output stays clean.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var writers []io.Writer
	if flagVerbose {
		writers = append(writers, os.Stderr)
	}
	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	switch len(writers) {
	case 0:
		return log.New(io.Discard, prefix, 0)
	case 1:
		return log.New(writers[0], prefix, log.LstdFlags)
	default:
		return log.New(io.MultiWriter(writers...), prefix, log.LstdFlags)
	}
}

// openProvider opens the engine serving the DSN with the configured
// connection options.
func openProvider(dsn string, cfg *config.Config) (provider.Provider, error) {
	if dsn == "" {
		return nil, fmt.Errorf("no database DSN configured")
	}
	return provider.Open(dsn, cfg.ProviderOptions())
}
