package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cobaltdata/schemaport/internal/apply"
	"github.com/cobaltdata/schemaport/internal/config"
	"github.com/cobaltdata/schemaport/internal/dashboard"
	"github.com/cobaltdata/schemaport/internal/provider"
	"github.com/cobaltdata/schemaport/internal/ui"
)

var applyCmd = &cobra.Command{
	Use:     "apply",
	GroupID: "core",
	Short:   "Replay migration artifacts against a target database",
	Long: `Walk the artifact directory in bucket order and execute every unit
against the target.

Replay order follows the bucket prefixes on disk (02_schemas before
08_tables before 09_views, data last). Reference-prone buckets (views,
routines, triggers) are retried across passes so units that depend on
siblings in the same bucket settle without manual ordering.

Around the data bucket, foreign key enforcement is suspended and then
restored, and every constraint is validated afterwards. Violations are
reported by name; they never roll back applied work.

Examples:
  spt apply --target staging.db
  spt apply --target libsql://db.turso.io --auth-token $TOKEN
  spt apply --target staging.db --dir ./migration --max-passes 5
  spt apply --target staging.db --skip-data --continue-on-error`,
	Run: runApply,
}

func init() {
	applyCmd.Flags().StringP("target", "t", "", "Target database DSN")
	applyCmd.Flags().StringP("dir", "d", "", "Artifact directory (default: the configured output directory)")
	applyCmd.Flags().Int("max-passes", 0, "Retry pass bound for reference-prone buckets")
	applyCmd.Flags().Bool("continue-on-error", false, "Keep applying past terminal unit failures")
	applyCmd.Flags().Bool("skip-data", false, "Skip the data bucket (schema-only replay)")
	applyCmd.Flags().String("auth-token", "", "Auth token for remote targets (prompted when required)")
	applyCmd.Flags().Bool("dashboard", false, "Broadcast replay progress on the WebSocket dashboard")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if v, _ := cmd.Flags().GetString("target"); v != "" {
		cfg.Target = v
	}
	if v, _ := cmd.Flags().GetInt("max-passes"); v > 0 {
		cfg.MaxPasses = v
	}
	if v, _ := cmd.Flags().GetBool("continue-on-error"); v {
		cfg.ContinueOnError = true
	}
	if v, _ := cmd.Flags().GetBool("skip-data"); v {
		cfg.SkipData = true
	}
	if v, _ := cmd.Flags().GetString("auth-token"); v != "" {
		cfg.AuthToken = v
	}
	if v, _ := cmd.Flags().GetBool("dashboard"); v {
		cfg.Dashboard.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Target == "" {
		fmt.Fprintf(os.Stderr, "Error: no target database (use --target or set target in schemaport.yaml)\n")
		os.Exit(1)
	}

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.OutputDir
	}

	if err := resolveAuthToken(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	prov, err := openProvider(cfg.Target, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening target: %v\n", err)
		os.Exit(1)
	}
	defer prov.Close()

	sess, err := prov.NewSession(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

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
		fmt.Printf("%s Dashboard: ws://localhost:%d/ws\n", ui.RenderAccent("📊"), cfg.Dashboard.Port)
	}

	applyCfg := &apply.Config{
		MaxPasses:       cfg.MaxPasses,
		RetryBuckets:    cfg.RetryBuckets,
		ContinueOnError: cfg.ContinueOnError,
		SkipData:        cfg.SkipData,
		Logger:          newLogger(cfg, "[apply] "),
	}
	applyCfg.OnBucket = func(br apply.BucketReport) {
		failed := 0
		for _, r := range br.Results {
			if r.State == apply.StateFailed {
				failed++
			}
		}
		line := fmt.Sprintf("   %s: %d unit(s), %d pass(es)", br.Bucket.ArtifactPrefix(), len(br.Results), br.Passes)
		if failed > 0 {
			line += fmt.Sprintf(", %s %d failed", ui.RenderWarn("⚠"), failed)
		}
		fmt.Println(line)
		if handler != nil {
			handler.OnApplyBucket(br)
		}
	}

	eng, err := apply.New(sess, applyCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Applying %s to %s...\n", ui.RenderAccent("🚀"), dir, cfg.Target)

	report, runErr := eng.Run(ctx, dir)
	if handler != nil && report != nil {
		handler.OnViolations(report.Violations)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error during apply: %v\n", runErr)
		os.Exit(1)
	}

	fmt.Printf("%s Apply complete in %v\n", ui.RenderPass("✓"), report.Duration.Round(time.Millisecond))
	fmt.Printf("   Applied: %d\n", report.Applied)
	if report.Failed > 0 {
		fmt.Printf("   Failed: %d\n", report.Failed)
	}

	if len(report.Violations) > 0 {
		fmt.Printf("\n%s %d foreign key violation(s):\n", ui.RenderWarn("⚠"), len(report.Violations))
		for _, v := range report.Violations {
			fmt.Printf("   %s: %d row(s)\n", v.Constraint, v.Rows)
		}
		os.Exit(1)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

// resolveAuthToken prompts for a token when the target engine needs one
// and neither flag, config, nor SPT_AUTH_TOKEN supplied it. The prompt
// reads without echo so tokens stay out of terminal scrollback.
func resolveAuthToken(cfg *config.Config) error {
	if cfg.AuthToken != "" || provider.Detect(cfg.Target) != provider.EngineLibSQL {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("auth token required for %s (use --auth-token or SPT_AUTH_TOKEN)", cfg.Target)
	}

	fmt.Fprint(os.Stderr, "Auth token: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read auth token: %w", err)
	}
	cfg.AuthToken = strings.TrimSpace(string(b))
	if cfg.AuthToken == "" {
		return fmt.Errorf("auth token required for %s", cfg.Target)
	}
	return nil
}
