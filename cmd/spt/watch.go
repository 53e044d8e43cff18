package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/dashboard"
	"github.com/cobaltdata/schemaport/internal/generate"
	"github.com/cobaltdata/schemaport/internal/provider"
	"github.com/cobaltdata/schemaport/internal/runlock"
	"github.com/cobaltdata/schemaport/internal/ui"
	"github.com/cobaltdata/schemaport/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "daemon",
	Short:   "Watch the source database and regenerate on change (foreground)",
	Long: `Run an initial generation, then watch the source database file and
rerun generation whenever its content changes.

The daemon:
  1. Runs a full or delta generation immediately
  2. Watches the database file and its journal siblings (-wal, -shm)
  3. Debounces bursts of writes into one run
  4. Queues a follow-up run for changes landing mid-run

Runs are delta runs, so only changed objects are rescripted. The watch
daemon needs a file-backed sqlite source; remote engines have nothing
for the file watcher to follow.

Examples:
  spt watch --source app.db
  spt watch --source app.db --debounce 5s --dashboard`,
	Run: runWatch,
}

func init() {
	watchCmd.Flags().StringP("source", "s", "", "Source database path")
	watchCmd.Flags().StringP("out", "o", "", "Output directory for artifacts")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a change triggers a run")
	watchCmd.Flags().Bool("dashboard", false, "Broadcast run progress on the WebSocket dashboard")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
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
	if v, _ := cmd.Flags().GetBool("dashboard"); v {
		cfg.Dashboard.Enabled = true
	}

	// Watch reruns generation on every change; delta keeps those runs
	// cheap by rescripting only what moved.
	cfg.Delta.Enabled = true

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Source == "" {
		fmt.Fprintf(os.Stderr, "Error: no source database (use --source or set source in schemaport.yaml)\n")
		os.Exit(1)
	}
	if provider.Detect(cfg.Source) != provider.EngineSQLite {
		fmt.Fprintf(os.Stderr, "Error: watch requires a file-backed sqlite source, got %s\n", cfg.Source)
		os.Exit(1)
	}
	sourcePath := sourceFilePath(cfg.Source)
	if sourcePath == ":memory:" || strings.Contains(cfg.Source, "mode=memory") {
		fmt.Fprintf(os.Stderr, "Error: watch requires a file-backed sqlite source\n")
		os.Exit(1)
	}

	// Held for the daemon's lifetime: every triggered run writes to the
	// same output directory.
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
	}

	pipeline, err := generate.New(prov, genCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	watchCfg := watch.DefaultConfig()
	watchCfg.Logger = newLogger(cfg, "[watch] ")
	if v, _ := cmd.Flags().GetDuration("debounce"); v > 0 {
		watchCfg.DebounceInterval = v
	}
	watchCfg.OnRun = func(summary *generate.Summary, runErr error) {
		if handler != nil {
			handler.OnRunComplete(summary, runErr)
		}
		if runErr != nil {
			fmt.Printf("%s Run failed: %v\n", ui.RenderWarn("⚠"), runErr)
			return
		}
		fmt.Printf("%s Run complete: %d written, %d copied, %d failed (%v)\n",
			ui.RenderPass("✓"), summary.Written, summary.Copied, summary.Failed,
			summary.Duration.Round(time.Millisecond))
	}

	d, err := watch.NewWithConfig(pipeline, sourcePath, watchCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating watch daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Watching %s...\n", ui.RenderAccent("🔄"), sourcePath)
	fmt.Printf("   Output: %s\n", cfg.OutputDir)
	fmt.Printf("   Debounce: %v\n", watchCfg.DebounceInterval)
	if cfg.Dashboard.Enabled {
		fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.Dashboard.Port)
	}
	fmt.Printf("\nPress Ctrl+C to stop\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Watch daemon stopped with error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nWatch daemon stopped")
}

// sourceFilePath extracts the filesystem path the watcher follows from a
// sqlite DSN. file: URIs lose their scheme, authority, and parameters.
func sourceFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if strings.HasPrefix(path, "//") {
		path = strings.TrimPrefix(path, "//")
	}
	return path
}
