package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/dispatch"
	"github.com/cobaltdata/schemaport/internal/ui"
)

const configName = "schemaport.yaml"
const optionsName = "schemaport.toml"

const configTemplate = `# schemaport configuration
# Values here are overridden by SPT_* environment variables and flags.

source: %q
target: %q
output_dir: %q
workers: %d

grouping:
  default: %q

delta:
  enabled: %t

# Per-type scripting options (see %s).
options_file: %q

# filter:
#   exclude_schemas: [temp]
#   exclude_names: ["sqlite_*"]

# dashboard:
#   enabled: true
#   port: 8080
`

const optionsTemplate = `# Per-type scripting options. Uncomment to override the defaults.

# [types.table]
# if_not_exists = true
# drop_first = false

# [types.data]
# batch_rows = 500

# [types.index]
# no_header = true
`

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Write a starter configuration interactively",
	Long: `Walk through the basic settings and write schemaport.yaml to the
working directory, plus a schemaport.toml with per-type scripting
options ready to uncomment.

Existing files are left alone unless --force is given.`,
	Run: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite existing configuration files")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		for _, name := range []string{configName, optionsName} {
			if _, err := os.Stat(name); err == nil {
				fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", name)
				os.Exit(1)
			}
		}
	}

	var (
		source      string
		target      string
		outDir      = "migration"
		workersStr  = "4"
		grouping    = "object"
		enableDelta bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Source database").
				Description("Path to a SQLite file or a libsql:// URL").
				Placeholder("app.db").
				Value(&source).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("source is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Target database").
				Description("Where apply replays artifacts (leave empty to set later)").
				Placeholder("libsql://db.turso.io").
				Value(&target),
			huh.NewInput().
				Title("Output directory").
				Description("Receives bucket directories, the snapshot, and deploy_order.yaml").
				Value(&outDir),
			huh.NewInput().
				Title("Workers").
				Description("Scripting pool size (1-32)").
				Value(&workersStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 1 || n > dispatch.MaxWorkers {
						return fmt.Errorf("workers must be 1-%d", dispatch.MaxWorkers)
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Grouping").
				Description("How objects map to artifact files").
				Options(
					huh.NewOption("One file per object (required for delta)", "object"),
					huh.NewOption("One file per schema", "schema"),
					huh.NewOption("One file per type", "type"),
				).
				Value(&grouping),
			huh.NewConfirm().
				Title("Enable delta generation?").
				Description("Rescript only what changed since the last run").
				Value(&enableDelta),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if enableDelta && grouping != "object" {
		fmt.Printf("%s Delta requires per-object grouping; using grouping=object\n", ui.RenderWarn("⚠"))
		grouping = "object"
	}
	workers, _ := strconv.Atoi(strings.TrimSpace(workersStr))

	body := fmt.Sprintf(configTemplate,
		strings.TrimSpace(source), strings.TrimSpace(target), outDir, workers,
		grouping, enableDelta, optionsName, optionsName)
	if err := os.WriteFile(configName, []byte(body), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", configName, err)
		os.Exit(1)
	}
	if err := os.WriteFile(optionsName, []byte(optionsTemplate), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", optionsName, err)
		os.Exit(1)
	}

	fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), configName)
	fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), optionsName)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("   spt plan          # preview the migration\n")
	fmt.Printf("   spt generate      # script the catalog\n")
}
