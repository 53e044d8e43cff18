package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/bench"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Benchmark dispatch throughput across worker pool sizes",
	Long: `Run the planning and dispatch path over a synthetic catalog and
measure throughput at each worker pool size.

Each sweep builds the same work queue the real pipeline would, replaces
scripting with a fixed per-item cost, and reports items/sec, latency
percentiles, and speedup over the first pool size.

Examples:
  # Sweep the default pool sizes (1, 2, 4, 8)
  spt bench

  # Larger catalog, wider sweep
  spt bench --schemas 8 --objects 200 --workers 1,4,8,16

  # Heavier per-item cost
  spt bench --cost 10ms`,
	Run: runBench,
}

func init() {
	benchCmd.Flags().Int("schemas", 0, "Schemas in the synthetic catalog")
	benchCmd.Flags().Int("objects", 0, "Objects per schema")
	benchCmd.Flags().IntSlice("workers", nil, "Pool sizes to sweep (first is the speedup baseline)")
	benchCmd.Flags().Duration("cost", 0, "Simulated per-item scripting cost")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	config := bench.DefaultConfig()
	if v, _ := cmd.Flags().GetInt("schemas"); v > 0 {
		config.Schemas = v
	}
	if v, _ := cmd.Flags().GetInt("objects"); v > 0 {
		config.ObjectsPerSchema = v
	}
	if v, _ := cmd.Flags().GetIntSlice("workers"); len(v) > 0 {
		config.Workers = v
	}
	if v, _ := cmd.Flags().GetDuration("cost"); v > 0 {
		config.ItemCost = v
	}

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flagVerbose {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		config.Logger = newLogger(cfg, "[bench] ")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, err := bench.Sweep(ctx, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running benchmark: %v\n", err)
		os.Exit(1)
	}

	bench.PrintSweep(os.Stdout, config, results)
}
