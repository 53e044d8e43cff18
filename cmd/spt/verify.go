package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/ui"
)

var verifyCmd = &cobra.Command{
	Use:     "verify",
	GroupID: "core",
	Short:   "Validate every foreign key constraint on a target",
	Long: `Check every enforced foreign key on the target and report violating
constraints by name, with the number of violating rows.

Apply runs this automatically after the data bucket; verify re-runs the
same check on demand, against any database the tool can reach.

Examples:
  spt verify --target staging.db
  spt verify --target libsql://db.turso.io --auth-token $TOKEN`,
	Run: runVerify,
}

func init() {
	verifyCmd.Flags().StringP("target", "t", "", "Target database DSN")
	verifyCmd.Flags().String("auth-token", "", "Auth token for remote targets (prompted when required)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if v, _ := cmd.Flags().GetString("target"); v != "" {
		cfg.Target = v
	}
	if v, _ := cmd.Flags().GetString("auth-token"); v != "" {
		cfg.AuthToken = v
	}
	if cfg.Target == "" {
		fmt.Fprintf(os.Stderr, "Error: no target database (use --target or set target in schemaport.yaml)\n")
		os.Exit(1)
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

	fmt.Printf("%s Checking constraints on %s...\n", ui.RenderAccent("🔄"), cfg.Target)

	violations, err := sess.CheckConstraints(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking constraints: %v\n", err)
		os.Exit(1)
	}

	if len(violations) == 0 {
		fmt.Printf("%s No constraint violations\n", ui.RenderPass("✓"))
		return
	}

	fmt.Printf("%s %d foreign key violation(s):\n", ui.RenderWarn("⚠"), len(violations))
	for _, v := range violations {
		fmt.Printf("   %s: %d row(s)\n", v.Constraint, v.Rows)
	}
	os.Exit(1)
}
