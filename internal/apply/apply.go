// Package apply replays generated artifacts against a target store in
// bucket order.
//
// Replay trusts the on-disk naming contract: bucket directories carry a
// zero-padded ordinal prefix, so one lexicographic sort of the run
// directory recovers the dependency order without consulting the planner.
// Reference-prone buckets (views, routines, triggers) run under bounded
// multi-pass retry; the data bucket runs inside the constraint lifecycle.
package apply

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/provider"
)

// DefaultMaxPasses bounds the retry loop when unset.
const DefaultMaxPasses = 10

// Config holds replay settings.
type Config struct {
	// MaxPasses bounds the retry loop for reference-prone buckets.
	MaxPasses int

	// RetryBuckets lists the bucket ordinals eligible for multi-pass
	// retry. Nil means the default reference-prone set.
	RetryBuckets []int

	// ContinueOnError keeps the run going past terminal unit failures
	// instead of stopping at the first one.
	ContinueOnError bool

	// SkipData skips the data bucket and its constraint lifecycle
	// entirely (schema-only replay).
	SkipData bool

	// OnBucket, when set, receives each bucket's report as it
	// completes. Used by the CLI to stream replay progress.
	OnBucket func(BucketReport)

	// Logger for per-unit progress
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxPasses: DefaultMaxPasses,
		Logger:    log.New(os.Stderr, "[apply] ", log.LstdFlags),
	}
}

// Validate checks the retry bounds.
func (c *Config) Validate() error {
	if c.MaxPasses < 1 {
		return fmt.Errorf("max passes must be at least 1, got %d", c.MaxPasses)
	}
	return nil
}

// UnitState tracks one artifact through the replay state machine.
type UnitState string

const (
	StatePending  UnitState = "pending"
	StateApplying UnitState = "applying"
	StateApplied  UnitState = "applied"
	StateFailed   UnitState = "failed"
)

// Artifact is one discovered .sql file.
type Artifact struct {
	Bucket catalog.Bucket
	Name   string
	Path   string
}

// BucketArtifacts groups one bucket directory's files in replay order.
type BucketArtifacts struct {
	Bucket    catalog.Bucket
	Dir       string
	Artifacts []Artifact
}

// UnitResult is the final state of one artifact.
type UnitResult struct {
	Artifact Artifact
	State    UnitState
	Attempts int
	Err      error
}

// BucketReport is one bucket's replay outcome.
type BucketReport struct {
	Bucket  catalog.Bucket
	Passes  int
	Results []UnitResult
}

// failedCount counts terminal failures in the bucket.
func (br BucketReport) failedCount() int {
	n := 0
	for _, r := range br.Results {
		if r.State == StateFailed {
			n++
		}
	}
	return n
}

// Report aggregates a full replay run.
type Report struct {
	Buckets    []BucketReport
	Applied    int
	Failed     int
	Violations []provider.Violation
	Duration   time.Duration
}

func (r *Report) tally() {
	r.Applied, r.Failed = 0, 0
	for _, br := range r.Buckets {
		for _, res := range br.Results {
			switch res.State {
			case StateApplied:
				r.Applied++
			case StateFailed:
				r.Failed++
			}
		}
	}
}

var bucketDirRe = regexp.MustCompile(`^\d{2}_`)

// Discover lists bucket directories and their artifacts in replay order.
// Directories that do not match a known bucket prefix are an error rather
// than a guess.
func Discover(dir string) ([]BucketArtifacts, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var out []BucketArtifacts
	for _, entry := range entries {
		if !entry.IsDir() || !bucketDirRe.MatchString(entry.Name()) {
			continue
		}
		bucket, ok := catalog.BucketByPrefix(entry.Name())
		if !ok {
			return nil, fmt.Errorf("unknown bucket directory %q", entry.Name())
		}

		files, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read bucket directory %s: %w", entry.Name(), err)
		}

		var arts []Artifact
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
				continue
			}
			arts = append(arts, Artifact{
				Bucket: bucket,
				Name:   f.Name(),
				Path:   filepath.Join(dir, entry.Name(), f.Name()),
			})
		}
		if len(arts) == 0 {
			continue
		}
		out = append(out, BucketArtifacts{Bucket: bucket, Dir: entry.Name(), Artifacts: arts})
	}
	return out, nil
}

// Engine replays one artifact directory over one provider session.
type Engine struct {
	sess    provider.Session
	config  *Config
	retry   map[int]bool
	dataOrd int
}

// New creates a replay engine. A nil config uses DefaultConfig.
func New(sess provider.Session, config *Config) (*Engine, error) {
	if sess == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[apply] ", log.LstdFlags)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	retryBuckets := config.RetryBuckets
	if retryBuckets == nil {
		retryBuckets = catalog.RetryEligibleDefaults()
	}
	retry := make(map[int]bool, len(retryBuckets))
	for _, ord := range retryBuckets {
		retry[ord] = true
	}

	dataBucket, err := catalog.BucketFor(catalog.TypeData)
	if err != nil {
		return nil, err
	}

	return &Engine{sess: sess, config: config, retry: retry, dataOrd: dataBucket.Ordinal}, nil
}

// Run replays every discovered bucket in order and returns the full report.
// With ContinueOnError unset the run stops after the first bucket that has
// a terminal failure; the report still covers everything attempted.
func (e *Engine) Run(ctx context.Context, dir string) (*Report, error) {
	start := time.Now()
	report := &Report{}
	defer func() {
		report.tally()
		report.Duration = time.Since(start)
	}()

	buckets, err := Discover(dir)
	if err != nil {
		return report, err
	}

	for _, ba := range buckets {
		var br BucketReport
		var bucketErr error
		switch {
		case ba.Bucket.Ordinal == e.dataOrd:
			if e.config.SkipData {
				e.config.Logger.Printf("skipping %s (%d artifact(s))", ba.Dir, len(ba.Artifacts))
				continue
			}
			var violations []provider.Violation
			br, violations, bucketErr = e.runDataBucket(ctx, ba)
			report.Violations = append(report.Violations, violations...)
		case e.retry[ba.Bucket.Ordinal]:
			br = e.runRetryBucket(ctx, ba)
		default:
			br = e.runSequentialBucket(ctx, ba)
		}

		report.Buckets = append(report.Buckets, br)
		if e.config.OnBucket != nil {
			e.config.OnBucket(br)
		}
		if bucketErr != nil {
			return report, bucketErr
		}

		if n := br.failedCount(); n > 0 {
			e.config.Logger.Printf("%s: %d unit(s) failed", ba.Dir, n)
			if !e.config.ContinueOnError {
				return report, fmt.Errorf("stopping after %s: %d unit(s) failed", ba.Dir, n)
			}
		}
	}

	return report, nil
}

// runSequentialBucket applies every unit once, in file order.
func (e *Engine) runSequentialBucket(ctx context.Context, ba BucketArtifacts) BucketReport {
	br := BucketReport{Bucket: ba.Bucket, Passes: 1}
	for _, art := range ba.Artifacts {
		res := UnitResult{Artifact: art, Attempts: 1, State: StateApplied}
		if err := e.applyArtifact(ctx, art); err != nil {
			res.State = StateFailed
			res.Err = err
			e.config.Logger.Printf("%s/%s failed: %v", ba.Dir, art.Name, err)
		}
		br.Results = append(br.Results, res)
		if res.State == StateFailed && !e.config.ContinueOnError {
			break
		}
	}
	return br
}

func (e *Engine) applyArtifact(ctx context.Context, art Artifact) error {
	script, err := os.ReadFile(art.Path) // #nosec G304 - path discovered under the replay directory
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", art.Name, err)
	}
	return e.sess.Execute(ctx, script)
}
