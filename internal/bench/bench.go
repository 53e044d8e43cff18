// Package bench measures dispatch throughput across worker pool sizes.
//
// The benchmark synthesizes a catalog, plans and queues it exactly the
// way a real run does, then dispatches the items to runners that simulate
// per-item scripting cost. Sweeping pool sizes against the single-worker
// baseline shows how far the pool scales before coordination overhead
// dominates.
package bench

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/dispatch"
	"github.com/cobaltdata/schemaport/internal/plan"
)

// Config defines the parameters for a benchmark sweep.
type Config struct {
	// Schemas is the number of synthetic schemas to generate
	Schemas int

	// ObjectsPerSchema is how many objects each schema carries
	ObjectsPerSchema int

	// Workers lists the pool sizes to sweep, in run order. The first
	// entry is the speedup baseline.
	Workers []int

	// ItemCost is the simulated scripting cost per work item
	ItemCost time.Duration

	// Logger for sweep progress
	Logger *log.Logger
}

// DefaultConfig returns a benchmark configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Schemas:          4,
		ObjectsPerSchema: 50,
		Workers:          []int{1, 2, 4, 8},
		ItemCost:         2 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// Validate checks sweep parameters.
func (c *Config) Validate() error {
	if c.Schemas < 1 {
		return fmt.Errorf("schemas must be at least 1, got %d", c.Schemas)
	}
	if c.ObjectsPerSchema < 1 {
		return fmt.Errorf("objects per schema must be at least 1, got %d", c.ObjectsPerSchema)
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("workers sweep cannot be empty")
	}
	for _, w := range c.Workers {
		if w < 1 || w > dispatch.MaxWorkers {
			return fmt.Errorf("worker count must be between 1 and %d, got %d", dispatch.MaxWorkers, w)
		}
	}
	if c.ItemCost < 0 {
		return fmt.Errorf("item cost cannot be negative")
	}
	return nil
}

// Result captures the metrics of one pool size's run.
type Result struct {
	Workers        int
	Items          int
	TotalDuration  time.Duration
	ItemsPerSecond float64

	// Latency metrics over per-item runner durations
	Latency LatencyMetrics

	// Speedup relative to the sweep's first pool size
	Speedup float64
}

// LatencyMetrics captures per-item latency statistics.
type LatencyMetrics struct {
	Min  time.Duration
	P50  time.Duration
	Mean time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration

	// Raw durations for analysis
	Durations []time.Duration
}

// ComputeStats calculates statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))

	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return LatencyMetrics{
		Min:       sorted[0],
		P50:       p50,
		Mean:      mean,
		P95:       p95,
		P99:       p99,
		Max:       sorted[len(sorted)-1],
		Durations: sorted,
	}
}

// SynthesizeCatalog builds a deterministic synthetic catalog: half the
// objects in each schema are tables, the rest alternate between indexes
// and views. Names are unique across the whole catalog.
func SynthesizeCatalog(schemas, objectsPerSchema int) []catalog.Object {
	var out []catalog.Object
	for s := 0; s < schemas; s++ {
		schema := fmt.Sprintf("bench_%02d", s)
		out = append(out, catalog.Object{Type: catalog.TypeSchema, Schema: "", Name: schema})

		for i := 0; i < objectsPerSchema; i++ {
			switch {
			case i%2 == 0:
				out = append(out, catalog.Object{
					Type:   catalog.TypeTable,
					Schema: schema,
					Name:   fmt.Sprintf("t_%03d", i),
				})
			case i%4 == 1:
				out = append(out, catalog.Object{
					Type:   catalog.TypeIndex,
					Schema: schema,
					Name:   fmt.Sprintf("ix_%03d", i),
				})
			default:
				out = append(out, catalog.Object{
					Type:   catalog.TypeView,
					Schema: schema,
					Name:   fmt.Sprintf("v_%03d", i),
				})
			}
		}
	}
	return out
}

// BuildItems plans and queues the synthetic catalog with per-object
// grouping, the same path a real generation run takes.
func BuildItems(objects []catalog.Object) ([]plan.WorkItem, error) {
	units, err := plan.NewPlanner(plan.DefaultGrouping()).Plan(objects)
	if err != nil {
		return nil, fmt.Errorf("failed to plan synthetic catalog: %w", err)
	}
	items, err := plan.BuildQueue(units)
	if err != nil {
		return nil, fmt.Errorf("failed to queue synthetic catalog: %w", err)
	}
	return items, nil
}

// collector gathers per-item durations across workers.
type collector struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (c *collector) record(d time.Duration) {
	c.mu.Lock()
	c.durations = append(c.durations, d)
	c.mu.Unlock()
}

// timingRunner simulates scripting cost and records per-item latency.
type timingRunner struct {
	cost time.Duration
	sink *collector
}

func (r *timingRunner) Run(ctx context.Context, item plan.WorkItem) (int, error) {
	start := time.Now()
	if r.cost > 0 {
		select {
		case <-time.After(r.cost):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	r.sink.record(time.Since(start))
	return len(item.Unit.Objects), nil
}

func (r *timingRunner) Close() error { return nil }

// Run dispatches the items across one pool size and computes its metrics.
func Run(ctx context.Context, workers int, items []plan.WorkItem, itemCost time.Duration, logger *log.Logger) (Result, error) {
	sink := &collector{}
	factory := func(ctx context.Context, worker int) (dispatch.Runner, error) {
		return &timingRunner{cost: itemCost, sink: sink}, nil
	}

	d, err := dispatch.New(factory, &dispatch.Config{
		Workers:      workers,
		PollInterval: 50 * time.Millisecond,
		Logger:       logger,
	})
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	outcome, err := d.Run(ctx, items)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch with %d worker(s) failed: %w", workers, err)
	}
	elapsed := time.Since(start)

	res := Result{
		Workers:       workers,
		Items:         int(outcome.Total),
		TotalDuration: elapsed,
		Latency:       ComputeStats(sink.durations),
	}
	if elapsed > 0 {
		res.ItemsPerSecond = float64(res.Items) / elapsed.Seconds()
	}
	return res, nil
}

// Sweep runs the full worker sweep and fills in speedups against the
// first pool size.
func Sweep(ctx context.Context, config Config) ([]Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}

	objects := SynthesizeCatalog(config.Schemas, config.ObjectsPerSchema)
	items, err := BuildItems(objects)
	if err != nil {
		return nil, err
	}

	config.Logger.Printf("benchmarking %d items across pool sizes %v", len(items), config.Workers)

	results := make([]Result, 0, len(config.Workers))
	for _, w := range config.Workers {
		res, err := Run(ctx, w, items, config.ItemCost, config.Logger)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		config.Logger.Printf("%d worker(s): %d items in %v", w, res.Items, res.TotalDuration.Round(time.Millisecond))
	}

	base := results[0].TotalDuration
	for i := range results {
		if results[i].TotalDuration > 0 {
			results[i].Speedup = float64(base) / float64(results[i].TotalDuration)
		}
	}
	return results, nil
}

// FormatDuration formats a duration into a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// PrintSweep outputs a formatted sweep report.
func PrintSweep(w io.Writer, config Config, results []Result) {
	fmt.Fprintf(w, "\n=== Dispatch Benchmark ===\n\n")

	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Schemas:            %d\n", config.Schemas)
	fmt.Fprintf(w, "  Objects per schema: %d\n", config.ObjectsPerSchema)
	fmt.Fprintf(w, "  Simulated cost:     %s\n", FormatDuration(config.ItemCost))
	if len(results) > 0 {
		fmt.Fprintf(w, "  Work items:         %d\n", results[0].Items)
	}
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "%-9s %-13s %-13s %-11s %-11s %s\n",
		"Workers", "Duration", "Items/sec", "P50", "P95", "Speedup")
	for _, res := range results {
		fmt.Fprintf(w, "%-9d %-13s %-13.1f %-11s %-11s %.2fx\n",
			res.Workers,
			FormatDuration(res.TotalDuration),
			res.ItemsPerSecond,
			FormatDuration(res.Latency.P50),
			FormatDuration(res.Latency.P95),
			res.Speedup)
	}
	fmt.Fprintf(w, "\n")
}
