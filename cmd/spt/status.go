package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/config"
	"github.com/cobaltdata/schemaport/internal/delta"
	"github.com/cobaltdata/schemaport/internal/snapshot"
	"github.com/cobaltdata/schemaport/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "core",
	Short:   "Show the last generation run's snapshot",
	Long: `Display what the last generation run recorded: engine, grouping,
object counts by type, and objects whose replay needs an externally
supplied secret.

With --source, the current catalog is enumerated and classified against
the snapshot, showing what a delta run would rescript.

Examples:
  spt status
  spt status --snapshot ./migration/snapshot.jsonl
  spt status --source app.db`,
	Run: runStatus,
}

func init() {
	statusCmd.Flags().String("snapshot", "", "Snapshot path (default: snapshot.jsonl in the output directory)")
	statusCmd.Flags().StringP("source", "s", "", "Classify the current catalog against the snapshot")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if v, _ := cmd.Flags().GetString("snapshot"); v != "" {
		cfg.SnapshotPath = v
	}
	if v, _ := cmd.Flags().GetString("source"); v != "" {
		cfg.Source = v
	}

	path := cfg.Snapshot()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		fmt.Printf("\n%s No snapshot at %s\n", ui.RenderWarn("⚠"), path)
		fmt.Printf("   Run 'spt generate' to create one\n\n")
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking snapshot: %v\n", err)
		os.Exit(1)
	}

	snap, err := snapshot.Read(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading snapshot: %v\n", err)
		os.Exit(1)
	}

	size := info.Size()
	sizeStr := fmt.Sprintf("%d bytes", size)
	if size > 1024*1024 {
		sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	} else if size > 1024 {
		sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
	}

	fmt.Printf("\n%s Snapshot Status\n\n", ui.RenderAccent("📊"))
	fmt.Printf("Location: %s\n", path)
	fmt.Printf("Size: %s\n", sizeStr)
	fmt.Printf("Engine: %s\n", snap.Header.Engine)
	fmt.Printf("Grouping: %s\n", snap.Header.Grouping)
	if !snap.Header.CreatedAt.IsZero() {
		fmt.Printf("Created: %s (%v ago)\n",
			snap.Header.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			time.Since(snap.Header.CreatedAt).Round(time.Minute))
	}
	fmt.Printf("Objects: %d\n", len(snap.Records))

	counts := map[string]int{}
	for _, rec := range snap.Records {
		counts[rec.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("   %s: %d\n", t, counts[t])
	}

	if len(snap.Header.SecretObjects) > 0 {
		fmt.Printf("\n%s %d object(s) need a secret before apply:\n", ui.RenderWarn("⚠"), len(snap.Header.SecretObjects))
		for _, name := range snap.Header.SecretObjects {
			fmt.Printf("   %s\n", name)
		}
	}

	if cfg.Source != "" {
		printLiveDelta(cfg, snap)
	}
	fmt.Println()
}

// printLiveDelta enumerates the source and shows what a delta run would
// rescript against the snapshot.
func printLiveDelta(cfg *config.Config, snap *snapshot.Snapshot) {
	ctx := context.Background()
	prov, err := openProvider(cfg.Source, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening source: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	sess, err := prov.NewSession(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	logger := newLogger(cfg, "[status] ")
	objects, err := catalog.NewEnumerator(sess, cfg.FilterRules(), logger).Enumerate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error enumerating catalog: %v\n", err)
		os.Exit(1)
	}

	records, err := delta.NewPlanner(cfg.AlwaysModifiedTypes()).Classify(objects, snap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error classifying against snapshot: %v\n", err)
		os.Exit(1)
	}
	ds := delta.Summarize(records)

	fmt.Printf("\nDelta vs %s: %s\n", cfg.Source, ds)
	if ds.New == 0 && ds.Modified == 0 && ds.Deleted == 0 {
		fmt.Printf("%s Snapshot is current\n", ui.RenderPass("✓"))
	}
}
