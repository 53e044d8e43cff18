package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/config"
	"github.com/cobaltdata/schemaport/internal/dashboard"
	"github.com/cobaltdata/schemaport/internal/generate"
	"github.com/cobaltdata/schemaport/internal/runlock"
	"github.com/cobaltdata/schemaport/internal/ui"
)

var generateCmd = &cobra.Command{
	Use:     "generate",
	GroupID: "core",
	Short:   "Script the source catalog into ordered migration artifacts",
	Long: `Enumerate the source database and script every object into a bucket
directory under the output directory.

A generation run:
  1. Enumerates the catalog (tables, views, indexes, triggers, ...)
  2. Partitions objects into units per the grouping mode
  3. Scripts each unit across a worker pool
  4. Writes snapshot.jsonl and deploy_order.yaml alongside the artifacts

With --delta, objects are classified against the prior snapshot and only
new or modified units are rescripted; unchanged artifacts carry over.
Delta requires per-object grouping so each object maps to one artifact.

Examples:
  spt generate --source app.db
  spt generate --source app.db --out ./migration --workers 8
  spt generate --source app.db --delta --since "2 days ago"
  spt generate --source libsql://db.turso.io --dashboard`,
	Run: runGenerate,
}

func init() {
	generateCmd.Flags().StringP("source", "s", "", "Source database DSN (file path or libsql:// URL)")
	generateCmd.Flags().StringP("out", "o", "", "Output directory for artifacts")
	generateCmd.Flags().Int("workers", 0, "Worker pool size")
	generateCmd.Flags().String("grouping", "", "Default grouping mode: object, schema, or type")
	generateCmd.Flags().Bool("delta", false, "Classify against the prior snapshot and rescript only changes")
	generateCmd.Flags().String("snapshot", "", "Snapshot path (default: snapshot.jsonl in the output directory)")
	generateCmd.Flags().String("since", "", "Only include objects modified since this instant (e.g. \"2 days ago\")")
	generateCmd.Flags().Bool("dashboard", false, "Broadcast run progress on the WebSocket dashboard")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if v, _ := cmd.Flags().GetString("source"); v != "" {
		cfg.Source = v
	}
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		cfg.OutputDir = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}
	if v, _ := cmd.Flags().GetString("grouping"); v != "" {
		cfg.Grouping.Default = v
	}
	if v, _ := cmd.Flags().GetBool("delta"); v {
		cfg.Delta.Enabled = true
	}
	if v, _ := cmd.Flags().GetString("snapshot"); v != "" {
		cfg.SnapshotPath = v
	}
	if v, _ := cmd.Flags().GetString("since"); v != "" {
		cfg.Delta.Since = v
	}
	if v, _ := cmd.Flags().GetBool("dashboard"); v {
		cfg.Dashboard.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Source == "" {
		fmt.Fprintf(os.Stderr, "Error: no source database (use --source or set source in schemaport.yaml)\n")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One writer per output directory. Concurrent runs would interleave
	// artifacts and trample the snapshot.
	lock, err := runlock.Acquire(cfg.OutputDir)
	if err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			fmt.Fprintf(os.Stderr, "Error: another run is already writing to %s\n", cfg.OutputDir)
		} else {
			fmt.Fprintf(os.Stderr, "Error acquiring run lock: %v\n", err)
		}
		os.Exit(1)
	}
	defer lock.Release()

	prov, err := openProvider(cfg.Source, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening source: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	genCfg, err := pipelineConfig(cfg, newLogger(cfg, "[generate] "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var handler *dashboard.Handler
	if cfg.Dashboard.Enabled {
		server := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: newLogger(cfg, "[dashboard] "),
		})
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
			os.Exit(1)
		}
		defer server.Stop()

		handler = dashboard.NewHandler(server, newLogger(cfg, "[dashboard] "))
		engine := prov.Engine().String()
		genCfg.OnStart = func(objects, units, items int, delta bool) {
			handler.OnRunStarted(engine, objects, units, items, delta)
		}
		genCfg.OnProgress = handler.OnProgress
		fmt.Printf("%s Dashboard: ws://localhost:%d/ws\n", ui.RenderAccent("📊"), cfg.Dashboard.Port)
	}

	pipeline, err := generate.New(prov, genCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Generating from %s...\n", ui.RenderAccent("🔄"), cfg.Source)

	summary, err := pipeline.Run(ctx)
	if handler != nil {
		handler.OnRunComplete(summary, err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during generation: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Generation complete in %v\n", ui.RenderPass("✓"), summary.Duration.Round(time.Millisecond))
	fmt.Printf("   Objects: %d\n", summary.Objects)
	fmt.Printf("   Units: %d\n", summary.Units)
	fmt.Printf("   Written: %d\n", summary.Written)
	if summary.Delta != nil {
		fmt.Printf("   Copied: %d\n", summary.Copied)
		fmt.Printf("   Delta: %s\n", summary.Delta)
	}
	fmt.Printf("   Snapshot: %s\n", summary.SnapshotPath)
	fmt.Printf("   Order: %s\n", summary.OrderPath)

	if !summary.Clean() {
		fmt.Printf("\n%s %d unit(s) failed to script\n", ui.RenderWarn("⚠"), summary.Failed+summary.Fatal)
		os.Exit(1)
	}
}

// pipelineConfig assembles the generation pipeline settings from resolved
// configuration. Shared with the watch daemon.
func pipelineConfig(cfg *config.Config, logger *log.Logger) (*generate.Config, error) {
	grouping, err := cfg.GroupingPlan()
	if err != nil {
		return nil, err
	}
	opts, err := config.LoadTypeOptions(cfg.OptionsFile)
	if err != nil {
		return nil, err
	}

	filter := cfg.FilterRules()
	if cfg.Delta.Since != "" {
		cutoff, err := parseSince(cfg.Delta.Since)
		if err != nil {
			return nil, err
		}
		filter.Since = cutoff
	}

	return &generate.Config{
		OutputDir:      cfg.OutputDir,
		Grouping:       grouping,
		Filter:         filter,
		Workers:        cfg.Workers,
		PollInterval:   cfg.PollInterval,
		Delta:          cfg.Delta.Enabled,
		SnapshotPath:   cfg.SnapshotPath,
		AlwaysModified: cfg.AlwaysModifiedTypes(),
		Options:        opts.For,
		Logger:         logger,
	}, nil
}

// parseSince resolves the modification cutoff. Absolute stamps parse
// directly; anything else goes through the natural-language parser
// ("2 days ago", "last monday").
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand since %q", s)
	}
	return r.Time, nil
}
