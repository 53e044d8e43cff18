// Package generate wires the generation pipeline end to end: enumerate
// the source catalog, plan ordered units, optionally classify against a
// prior snapshot, build the collision-checked work queue, script units
// across the worker pool, and finish with the snapshot and the
// deployment-order listing.
//
// Workflow:
//  1. Load the prior snapshot (delta runs only).
//  2. Enumerate the catalog through a dedicated session.
//  3. Plan units and build the work queue; every unit gets its target
//     here, so delta copies and fresh artifacts share one namespace.
//  4. Partition delta runs: Unchanged units are satisfied by copying the
//     prior artifact, everything else goes to the dispatcher.
//  5. Dispatch scripting across the worker pool.
//  6. Write the snapshot and deploy_order.yaml.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/delta"
	"github.com/cobaltdata/schemaport/internal/dispatch"
	"github.com/cobaltdata/schemaport/internal/plan"
	"github.com/cobaltdata/schemaport/internal/provider"
	"github.com/cobaltdata/schemaport/internal/snapshot"
)

// SnapshotName is the snapshot's file name inside the output directory.
const SnapshotName = "snapshot.jsonl"

// OrderName is the deployment-order listing's file name.
const OrderName = "deploy_order.yaml"

// Config holds one generation run's settings, already resolved to domain
// types by the caller.
type Config struct {
	// OutputDir receives bucket directories, artifacts, the snapshot,
	// and the order listing.
	OutputDir string

	// Grouping selects unit partitioning.
	Grouping plan.Grouping

	// Filter is applied during enumeration.
	Filter catalog.Filter

	// Workers sizes the dispatch pool.
	Workers int

	// PollInterval is the progress poller's tick.
	PollInterval time.Duration

	// Delta classifies against the prior snapshot and regenerates only
	// what changed. Requires per-object grouping for every type.
	Delta bool

	// SnapshotPath overrides where the prior snapshot is read and the
	// new one written. Empty means SnapshotName inside OutputDir.
	SnapshotPath string

	// AlwaysModified overrides the delta planner's always-Modified type
	// set. Nil keeps the stock set.
	AlwaysModified []catalog.Type

	// Options resolves scripting options per type. Nil means stock
	// options for every type.
	Options func(catalog.Type) provider.ScriptOptions

	// OnStart is called once the work queue is built, before dispatch
	// begins. The dashboard announces runs from it.
	OnStart func(objects, units, items int, delta bool)

	// OnProgress receives dispatcher progress, for the dashboard.
	OnProgress func(done, total int64)

	// Logger for pipeline stages
	Logger *log.Logger
}

// Summary is one run's aggregate accounting.
type Summary struct {
	Engine   string
	Objects  int
	Units    int
	Items    int
	Written  int
	Copied   int
	Deleted  int
	Failed   int
	Fatal    int
	Duration time.Duration

	// Delta holds classification counts for delta runs, nil otherwise.
	Delta *delta.Summary

	SnapshotPath string
	OrderPath    string
}

// Clean reports whether every item produced its artifact.
func (s *Summary) Clean() bool {
	return s.Failed == 0 && s.Fatal == 0
}

// Pipeline runs generation against one provider.
type Pipeline struct {
	prov   provider.Provider
	config *Config
}

// New creates a pipeline. Zero-value worker and interval settings fall
// back to the dispatcher defaults.
func New(prov provider.Provider, config *Config) (*Pipeline, error) {
	if prov == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := config.Grouping.Validate(); err != nil {
		return nil, err
	}
	if err := config.Filter.Validate(); err != nil {
		return nil, err
	}
	if config.Workers == 0 {
		config.Workers = dispatch.DefaultWorkers
	}
	if config.PollInterval == 0 {
		config.PollInterval = dispatch.DefaultConfig().PollInterval
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[generate] ", log.LstdFlags)
	}
	if config.Options == nil {
		config.Options = func(catalog.Type) provider.ScriptOptions {
			return provider.DefaultScriptOptions()
		}
	}
	return &Pipeline{prov: prov, config: config}, nil
}

// Run executes the pipeline. Failures recorded by the dispatcher land in
// the summary, not the error: the error covers pipeline-level aborts
// (enumeration, target collision, snapshot write).
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{Engine: p.prov.Engine().String()}

	var prior *snapshot.Snapshot
	if p.config.Delta {
		if err := delta.CheckGrouping(p.config.Grouping); err != nil {
			return nil, err
		}
		var err error
		prior, err = p.loadPrior()
		if err != nil {
			return nil, err
		}
	}

	objects, err := p.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	summary.Objects = len(objects)

	units, err := plan.NewPlanner(p.config.Grouping).Plan(objects)
	if err != nil {
		return nil, err
	}
	summary.Units = len(units)

	items, err := plan.BuildQueue(units)
	if err != nil {
		return nil, err
	}
	summary.Items = len(items)

	if p.config.OnStart != nil {
		p.config.OnStart(len(objects), len(units), len(items), p.config.Delta)
	}

	toRun := items
	copied := map[int]bool{}
	if prior != nil {
		records, err := delta.NewPlanner(p.config.AlwaysModified).Classify(objects, prior)
		if err != nil {
			return nil, err
		}
		ds := delta.Summarize(records)
		summary.Delta = &ds
		summary.Deleted = ds.Deleted
		p.config.Logger.Printf("delta: %s", ds)

		toRun, copied = p.partitionDelta(items, records)
		summary.Copied = len(copied)
	}

	if err := os.MkdirAll(p.config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	outcome, err := p.dispatch(ctx, toRun)
	if err != nil {
		return nil, err
	}
	summary.Written = outcome.Done
	summary.Failed = outcome.Failed
	summary.Fatal = outcome.Fatal

	snapPath := p.snapshotPath()
	if err := p.writeSnapshot(snapPath, items, copied, outcome); err != nil {
		return nil, err
	}
	summary.SnapshotPath = snapPath

	orderPath := filepath.Join(p.config.OutputDir, OrderName)
	planned := make([]plan.Unit, 0, len(items))
	for _, it := range items {
		planned = append(planned, it.Unit)
	}
	if err := WriteOrder(orderPath, planned); err != nil {
		return nil, err
	}
	summary.OrderPath = orderPath

	summary.Duration = time.Since(start)
	p.config.Logger.Printf("run complete: %d written, %d copied, %d failed in %v",
		summary.Written, summary.Copied, summary.Failed, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

func (p *Pipeline) snapshotPath() string {
	if p.config.SnapshotPath != "" {
		return p.config.SnapshotPath
	}
	return filepath.Join(p.config.OutputDir, SnapshotName)
}

// loadPrior reads the prior snapshot for a delta run. A missing snapshot
// downgrades to full generation; anything else wrong with the file is an
// error rather than a silent full run.
func (p *Pipeline) loadPrior() (*snapshot.Snapshot, error) {
	path := p.snapshotPath()
	prior, err := snapshot.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.config.Logger.Printf("no prior snapshot at %s, running full generation", path)
			return nil, nil
		}
		return nil, err
	}
	if prior.Grouping() != catalog.GroupPerObject {
		return nil, fmt.Errorf("prior snapshot was generated with %s grouping; delta requires per-object",
			prior.Header.Grouping)
	}
	return prior, nil
}

func (p *Pipeline) enumerate(ctx context.Context) ([]catalog.Object, error) {
	sess, err := p.prov.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open enumeration session: %w", err)
	}
	objects, err := catalog.NewEnumerator(sess, p.config.Filter, p.config.Logger).Enumerate(ctx)
	if closeErr := sess.Close(); closeErr != nil {
		p.config.Logger.Printf("enumeration session close: %v", closeErr)
	}
	return objects, err
}

// partitionDelta splits the queue into items to dispatch and items
// satisfied by copying the prior artifact. A missing copy source
// reclassifies the unit as modified instead of failing the run.
func (p *Pipeline) partitionDelta(items []plan.WorkItem, records []delta.Record) ([]plan.WorkItem, map[int]bool) {
	type verdict struct {
		class delta.Classification
		prior string
	}
	verdicts := make(map[string]verdict, len(records))
	for _, r := range records {
		verdicts[r.Object.Identity().Key()] = verdict{class: r.Class, prior: r.PriorArtifact}
	}

	var toRun []plan.WorkItem
	copied := map[int]bool{}
	for _, it := range items {
		v := verdicts[it.Unit.Objects[0].Identity().Key()]
		if v.class != delta.Unchanged {
			toRun = append(toRun, it)
			continue
		}
		if err := p.copyPrior(v.prior, it.Unit.Target); err != nil {
			p.config.Logger.Printf("prior artifact for %s unavailable (%v), regenerating",
				it.Unit.Target, err)
			toRun = append(toRun, it)
			continue
		}
		copied[it.ID] = true
	}
	return toRun, copied
}

// copyPrior materializes an unchanged unit's artifact from the prior run.
// When the target path is unchanged a presence check is all that is
// needed; the artifact is already in place.
func (p *Pipeline) copyPrior(from, to string) error {
	if from == "" {
		return fmt.Errorf("prior snapshot records no artifact")
	}
	src := filepath.Join(p.config.OutputDir, filepath.FromSlash(from))
	dst := filepath.Join(p.config.OutputDir, filepath.FromSlash(to))
	if src == dst {
		_, err := os.Stat(dst)
		return err
	}

	data, err := os.ReadFile(src) // #nosec G304 - path from the prior snapshot under the output directory
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func (p *Pipeline) dispatch(ctx context.Context, items []plan.WorkItem) (*dispatch.Outcome, error) {
	factory := func(ctx context.Context, worker int) (dispatch.Runner, error) {
		sess, err := p.prov.NewSession(ctx)
		if err != nil {
			return nil, err
		}
		return &scriptRunner{sess: sess, outDir: p.config.OutputDir, options: p.config.Options}, nil
	}

	disp, err := dispatch.New(factory, &dispatch.Config{
		Workers:      p.config.Workers,
		PollInterval: p.config.PollInterval,
		OnProgress:   p.config.OnProgress,
		Logger:       p.config.Logger,
	})
	if err != nil {
		return nil, err
	}
	return disp.Run(ctx, items)
}

// writeSnapshot records every object captured this run: dispatched items
// that succeeded plus copied items. Failed items are omitted, so the next
// delta run sees their objects as new and regenerates them.
func (p *Pipeline) writeSnapshot(path string, items []plan.WorkItem, copied map[int]bool, outcome *dispatch.Outcome) error {
	ok := make(map[int]bool, len(outcome.Results))
	for _, r := range outcome.Results {
		if r.ItemID != 0 && r.Err == nil {
			ok[r.ItemID] = true
		}
	}

	snap := snapshot.New(p.prov.Engine().String(), p.config.Grouping.Default)
	for _, it := range items {
		if !copied[it.ID] && !ok[it.ID] {
			continue
		}
		for _, obj := range it.Unit.Objects {
			snap.Add(obj, it.Unit.Target)
			if isSecretObject(obj.Type) {
				snap.Header.SecretObjects = append(snap.Header.SecretObjects, obj.Identity().String())
			}
		}
	}
	if p.prov.Engine() == provider.EngineLibSQL {
		snap.Header.SecretObjects = append(snap.Header.SecretObjects, "auth-token (libsql target)")
	}

	return snapshot.Write(path, snap)
}

// isSecretObject reports whether replaying the type needs an externally
// supplied secret.
func isSecretObject(t catalog.Type) bool {
	switch t {
	case catalog.TypeUser, catalog.TypeRole, catalog.TypeGrant:
		return true
	}
	return false
}

type orderEntry struct {
	Ordinal   int      `yaml:"ordinal"`
	Label     string   `yaml:"label"`
	Directory string   `yaml:"directory"`
	Types     []string `yaml:"types"`
	Units     int      `yaml:"units"`
}

type orderListing struct {
	GeneratedAt time.Time    `yaml:"generated_at"`
	Buckets     []orderEntry `yaml:"buckets"`
}

// WriteOrder writes the deployment-order listing. Operational output
// only: replay trusts the on-disk prefix contract, never this file.
func WriteOrder(path string, units []plan.Unit) error {
	var entries []orderEntry
	index := map[int]int{}
	for _, u := range units {
		pos, found := index[u.Bucket.Ordinal]
		if !found {
			entries = append(entries, orderEntry{
				Ordinal:   u.Bucket.Ordinal,
				Label:     u.Bucket.Label,
				Directory: u.Bucket.ArtifactPrefix(),
			})
			pos = len(entries) - 1
			index[u.Bucket.Ordinal] = pos
		}
		entries[pos].Units++
		for _, o := range u.Objects {
			s := string(o.Type)
			seen := false
			for _, existing := range entries[pos].Types {
				if existing == s {
					seen = true
					break
				}
			}
			if !seen {
				entries[pos].Types = append(entries[pos].Types, s)
			}
		}
	}

	data, err := yaml.Marshal(orderListing{GeneratedAt: time.Now().UTC(), Buckets: entries})
	if err != nil {
		return fmt.Errorf("failed to encode order listing: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write order listing: %w", err)
	}
	return nil
}

// scriptRunner is the per-worker executor: it scripts one unit's objects
// through its own session and writes the artifact under the output
// directory.
type scriptRunner struct {
	sess    provider.Session
	outDir  string
	options func(catalog.Type) provider.ScriptOptions
}

// Run scripts one unit. Per-schema units can span the types of their
// bucket, so each same-type run is scripted separately and the chunks
// concatenated; only the first chunk keeps its header.
func (r *scriptRunner) Run(ctx context.Context, item plan.WorkItem) (int, error) {
	unit := item.Unit

	var body []byte
	for begin := 0; begin < len(unit.Objects); {
		end := begin
		for end < len(unit.Objects) && unit.Objects[end].Type == unit.Objects[begin].Type {
			end++
		}
		opts := r.options(unit.Objects[begin].Type)
		opts.Header = opts.Header && begin == 0

		chunk, err := r.sess.Script(ctx, unit.Objects[begin:end], opts)
		if err != nil {
			return 0, err
		}
		body = append(body, chunk...)
		begin = end
	}

	path := filepath.Join(r.outDir, filepath.FromSlash(unit.Target))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create bucket directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return 0, fmt.Errorf("failed to write artifact %s: %w", unit.Target, err)
	}
	return len(unit.Objects), nil
}

func (r *scriptRunner) Close() error {
	return r.sess.Close()
}
