package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/generate"
	"github.com/cobaltdata/schemaport/internal/plan"
	"github.com/cobaltdata/schemaport/internal/ui"
)

var planCmd = &cobra.Command{
	Use:     "plan",
	GroupID: "core",
	Short:   "Preview the migration plan without scripting anything",
	Long: `Enumerate the source catalog, partition it into units, and show what a
generation run would produce, bucket by bucket.

No artifacts or snapshot are written. The deployment-order listing
(deploy_order.yaml) is written so the plan can be reviewed or checked in
before the real run.

Examples:
  spt plan --source app.db
  spt plan --source app.db --grouping schema`,
	Run: runPlan,
}

func init() {
	planCmd.Flags().StringP("source", "s", "", "Source database DSN")
	planCmd.Flags().StringP("out", "o", "", "Directory for deploy_order.yaml")
	planCmd.Flags().String("grouping", "", "Default grouping mode: object, schema, or type")
	planCmd.Flags().String("since", "", "Only include objects modified since this instant")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) {
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
	if v, _ := cmd.Flags().GetString("grouping"); v != "" {
		cfg.Grouping.Default = v
	}
	if v, _ := cmd.Flags().GetString("since"); v != "" {
		cfg.Delta.Since = v
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

	logger := newLogger(cfg, "[plan] ")
	genCfg, err := pipelineConfig(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

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

	objects, err := catalog.NewEnumerator(sess, genCfg.Filter, logger).Enumerate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error enumerating catalog: %v\n", err)
		os.Exit(1)
	}

	units, err := plan.NewPlanner(genCfg.Grouping).Plan(objects)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error planning units: %v\n", err)
		os.Exit(1)
	}
	// Queue construction validates target uniqueness; collisions should
	// surface in the preview, not in the real run.
	if _, err := plan.BuildQueue(units); err != nil {
		fmt.Fprintf(os.Stderr, "Error building work queue: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Migration plan for %s\n\n", ui.RenderAccent("📊"), cfg.Source)
	printPlanTable(units)
	fmt.Printf("\n%d object(s) in %d unit(s)\n", len(objects), len(units))

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	orderPath := filepath.Join(cfg.OutputDir, generate.OrderName)
	if err := generate.WriteOrder(orderPath, units); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing order listing: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(ui.RenderDim(fmt.Sprintf("Order written to %s", orderPath)))
}

func printPlanTable(units []plan.Unit) {
	type row struct {
		bucket  catalog.Bucket
		units   int
		objects int
		types   []string
	}

	index := map[int]int{}
	var rows []row
	for _, u := range units {
		pos, found := index[u.Bucket.Ordinal]
		if !found {
			rows = append(rows, row{bucket: u.Bucket})
			pos = len(rows) - 1
			index[u.Bucket.Ordinal] = pos
		}
		rows[pos].units++
		rows[pos].objects += len(u.Objects)
		for _, o := range u.Objects {
			s := string(o.Type)
			seen := false
			for _, existing := range rows[pos].types {
				if existing == s {
					seen = true
					break
				}
			}
			if !seen {
				rows[pos].types = append(rows[pos].types, s)
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].bucket.Ordinal < rows[j].bucket.Ordinal })

	fmt.Println(ui.RenderHeader(fmt.Sprintf("%-14s %-7s %-9s %s", "Directory", "Units", "Objects", "Types")))
	for _, r := range rows {
		fmt.Printf("%-14s %-7d %-9d %s\n",
			r.bucket.ArtifactPrefix(), r.units, r.objects, strings.Join(r.types, ", "))
	}
}
