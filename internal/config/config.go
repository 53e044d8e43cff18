// Package config loads and validates run configuration: schemaport.yaml
// (or an explicit --config path), SPT_* environment variables, and the
// per-type scripting options file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cobaltdata/schemaport/internal/apply"
	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/delta"
	"github.com/cobaltdata/schemaport/internal/dispatch"
	"github.com/cobaltdata/schemaport/internal/plan"
	"github.com/cobaltdata/schemaport/internal/provider"
)

// Config is the full run configuration. Field names map to YAML keys via
// the mapstructure tags; nested sections use dotted keys in the
// environment (grouping.default becomes SPT_GROUPING_DEFAULT).
type Config struct {
	// Source is the DSN of the catalog generation reads from.
	Source string `mapstructure:"source"`

	// Target is the DSN replay runs against.
	Target string `mapstructure:"target"`

	// AuthToken authenticates remote engines. SPT_AUTH_TOKEN is the
	// usual carrier so tokens stay out of config files.
	AuthToken string `mapstructure:"auth_token"`

	// LocalPath selects an embedded replica file for engines that
	// support one. Empty means connect remotely.
	LocalPath string `mapstructure:"local_path"`

	// OutputDir receives artifacts, the snapshot, and deploy_order.yaml.
	OutputDir string `mapstructure:"output_dir"`

	// SnapshotPath overrides the snapshot location. Empty means
	// snapshot.jsonl inside the output directory.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// OptionsFile points at the per-type scripting options TOML file.
	OptionsFile string `mapstructure:"options_file"`

	// LogFile, when set, routes command logs through a rotating file.
	LogFile string `mapstructure:"log_file"`

	// Workers sizes the dispatch pool.
	Workers int `mapstructure:"workers"`

	// PollInterval is the progress poller's tick.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MaxPasses bounds the apply engine's retry loop.
	MaxPasses int `mapstructure:"max_passes"`

	// RetryBuckets overrides the retry-eligible bucket ordinals.
	RetryBuckets []int `mapstructure:"retry_buckets"`

	// ContinueOnError keeps runs going past terminal failures.
	ContinueOnError bool `mapstructure:"continue_on_error"`

	// SkipData skips the data bucket on both sides.
	SkipData bool `mapstructure:"skip_data"`

	Grouping  GroupingConfig  `mapstructure:"grouping"`
	Delta     DeltaConfig     `mapstructure:"delta"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// GroupingConfig selects the default grouping mode and per-type overrides.
type GroupingConfig struct {
	Default string            `mapstructure:"default"`
	PerType map[string]string `mapstructure:"per_type"`
}

// DeltaConfig controls delta generation.
type DeltaConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AlwaysModified lists types classified Modified whenever present.
	// Absent means the stock conservative set; an explicit empty list
	// disables the rule.
	AlwaysModified []string `mapstructure:"always_modified"`

	// Since is a natural-language instant ("2 days ago"); the CLI
	// resolves it to a cutoff before enumeration.
	Since string `mapstructure:"since"`
}

// FilterConfig carries the enumeration inclusion/exclusion rules.
type FilterConfig struct {
	Types          []string `mapstructure:"types"`
	ExcludeTypes   []string `mapstructure:"exclude_types"`
	ExcludeSchemas []string `mapstructure:"exclude_schemas"`
	ExcludeNames   []string `mapstructure:"exclude_names"`
}

// DashboardConfig controls the progress dashboard server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:    "migration",
		Workers:      dispatch.DefaultWorkers,
		PollInterval: 2 * time.Second,
		MaxPasses:    apply.DefaultMaxPasses,
		Grouping:     GroupingConfig{Default: string(catalog.GroupPerObject)},
		Dashboard:    DashboardConfig{Port: 8080},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", "")
	v.SetDefault("target", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("local_path", "")
	v.SetDefault("output_dir", "migration")
	v.SetDefault("snapshot_path", "")
	v.SetDefault("options_file", "")
	v.SetDefault("log_file", "")
	v.SetDefault("workers", dispatch.DefaultWorkers)
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("max_passes", apply.DefaultMaxPasses)
	v.SetDefault("continue_on_error", false)
	v.SetDefault("skip_data", false)
	v.SetDefault("grouping.default", string(catalog.GroupPerObject))
	v.SetDefault("delta.enabled", false)
	v.SetDefault("delta.since", "")
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
}

// Load reads configuration in precedence order: defaults, then the YAML
// file (the explicit path, or schemaport.yaml in the working directory),
// then SPT_* environment variables. A missing schemaport.yaml is fine; a
// missing explicit path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("schemaport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks bounds and cross-field rules. Delta generation requires
// per-object grouping everywhere, checked here so misconfiguration is
// rejected before any artifact is produced.
func (c *Config) Validate() error {
	if c.Workers < 1 || c.Workers > dispatch.MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d, got %d", dispatch.MaxWorkers, c.Workers)
	}
	if c.MaxPasses < 1 {
		return fmt.Errorf("max_passes must be at least 1, got %d", c.MaxPasses)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}

	grouping, err := c.GroupingPlan()
	if err != nil {
		return err
	}
	if c.Delta.Enabled {
		if err := delta.CheckGrouping(grouping); err != nil {
			return err
		}
	}
	for _, name := range c.Delta.AlwaysModified {
		if !catalog.Type(name).IsKnown() {
			return fmt.Errorf("unknown type %q in delta.always_modified", name)
		}
	}
	for _, ord := range c.RetryBuckets {
		if len(catalog.TypesInBucket(ord)) == 0 {
			return fmt.Errorf("retry_buckets names unknown bucket ordinal %d", ord)
		}
	}
	if err := c.FilterRules().Validate(); err != nil {
		return err
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}

// GroupingPlan converts the grouping section into the planner's form.
func (c *Config) GroupingPlan() (plan.Grouping, error) {
	g := plan.Grouping{Default: catalog.GroupingMode(c.Grouping.Default)}
	if len(c.Grouping.PerType) > 0 {
		g.PerType = make(map[catalog.Type]catalog.GroupingMode, len(c.Grouping.PerType))
		for t, m := range c.Grouping.PerType {
			g.PerType[catalog.Type(t)] = catalog.GroupingMode(m)
		}
	}
	if err := g.Validate(); err != nil {
		return plan.Grouping{}, err
	}
	return g, nil
}

// FilterRules converts the filter section into enumerator form.
func (c *Config) FilterRules() catalog.Filter {
	f := catalog.Filter{
		ExcludeSchemas: c.Filter.ExcludeSchemas,
		ExcludeNames:   c.Filter.ExcludeNames,
	}
	for _, t := range c.Filter.Types {
		f.Types = append(f.Types, catalog.Type(t))
	}
	for _, t := range c.Filter.ExcludeTypes {
		f.ExcludeTypes = append(f.ExcludeTypes, catalog.Type(t))
	}
	return f
}

// AlwaysModifiedTypes converts the delta list, preserving the distinction
// between absent (stock set) and explicitly empty (disabled).
func (c *Config) AlwaysModifiedTypes() []catalog.Type {
	if c.Delta.AlwaysModified == nil {
		return nil
	}
	out := make([]catalog.Type, 0, len(c.Delta.AlwaysModified))
	for _, t := range c.Delta.AlwaysModified {
		out = append(out, catalog.Type(t))
	}
	return out
}

// ProviderOptions assembles engine options from the credential fields.
func (c *Config) ProviderOptions() provider.Options {
	return provider.Options{AuthToken: c.AuthToken, LocalPath: c.LocalPath}
}

// Snapshot returns the effective snapshot path.
func (c *Config) Snapshot() string {
	if c.SnapshotPath != "" {
		return c.SnapshotPath
	}
	return filepath.Join(c.OutputDir, "snapshot.jsonl")
}
