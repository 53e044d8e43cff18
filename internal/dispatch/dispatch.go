// Package dispatch drains a planned work queue across a bounded pool of
// independent workers.
//
// Each worker owns its runner (and with it its provider session) for the
// whole run: catalog connections are not safe to share across concurrent
// execution contexts. Workers pull items from a shared queue until it is
// empty; per-item failures are recorded and never halt the worker. The
// coordinator waits for the pool, then folds every record into one Outcome
// with exactly one record per item plus one fatal record per worker that
// failed setup.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cobaltdata/schemaport/internal/plan"
)

const (
	// DefaultWorkers is the conservative pool size used when unset.
	DefaultWorkers = 4

	// MaxWorkers bounds the pool; beyond this the provider's connection
	// pool becomes the choke point anyway.
	MaxWorkers = 32
)

var (
	// ErrWorkerSetup marks a worker that could not establish its own
	// session. Fatal to that worker only, never to the run.
	ErrWorkerSetup = errors.New("worker setup failed")

	// ErrPoolExhausted marks items that were never attempted because
	// every worker exited before the queue drained.
	ErrPoolExhausted = errors.New("worker pool exhausted")
)

// Runner executes work items. One Runner is created per worker, so
// implementations need no internal locking.
type Runner interface {
	// Run processes one item and reports how many objects it covered.
	Run(ctx context.Context, item plan.WorkItem) (int, error)

	// Close releases the runner's session.
	Close() error
}

// RunnerFactory creates one Runner per worker. An error here is a setup
// failure: the worker records one fatal result and exits.
type RunnerFactory func(ctx context.Context, worker int) (Runner, error)

// Config holds dispatcher settings.
type Config struct {
	// Workers is the pool size, 1..MaxWorkers.
	Workers int

	// PollInterval is how often the coordinator samples the progress
	// counter for OnProgress.
	PollInterval time.Duration

	// OnProgress, when set, receives (completed, total) at every poll
	// tick and once more after the pool drains.
	OnProgress func(done, total int64)

	// Logger for per-item failures and worker lifecycle
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:      DefaultWorkers,
		PollInterval: 2 * time.Second,
		Logger:       log.New(os.Stderr, "[dispatch] ", log.LstdFlags),
	}
}

// Validate checks pool bounds.
func (c *Config) Validate() error {
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d, got %d", MaxWorkers, c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	return nil
}

// Result records the outcome of one work item, or one worker's fatal setup
// failure (ItemID 0, Fatal true).
type Result struct {
	ItemID   int
	Target   string
	Worker   int
	Objects  int
	Err      error
	Fatal    bool
	Duration time.Duration
}

// Success reports whether the item completed cleanly.
func (r Result) Success() bool {
	return r.Err == nil
}

// Outcome aggregates a full dispatch run.
type Outcome struct {
	// Results holds one record per item plus one fatal record per failed
	// worker setup, sorted by item id.
	Results []Result

	Total    int // items queued
	Done     int // items that completed cleanly
	Failed   int // items that recorded an error
	Fatal    int // worker setup failures
	Duration time.Duration
}

// Failures returns only the failed item records, setup failures included.
func (o *Outcome) Failures() []Result {
	var out []Result
	for _, r := range o.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Dispatcher drains work queues across its worker pool.
type Dispatcher struct {
	factory RunnerFactory
	config  *Config
}

// New creates a dispatcher. A nil config uses DefaultConfig.
func New(factory RunnerFactory, config *Config) (*Dispatcher, error) {
	if factory == nil {
		return nil, fmt.Errorf("runner factory cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dispatch] ", log.LstdFlags)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{factory: factory, config: config}, nil
}

// Run processes every item and blocks until accounting is complete: one
// record per item, even when workers die early.
func (d *Dispatcher) Run(ctx context.Context, items []plan.WorkItem) (*Outcome, error) {
	start := time.Now()
	total := int64(len(items))

	queue := make(chan plan.WorkItem, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	var (
		resultsMu sync.Mutex
		results   []Result
	)
	record := func(r Result) {
		resultsMu.Lock()
		results = append(results, r)
		resultsMu.Unlock()
	}

	var done atomic.Int64

	// Progress poller
	pollStop := make(chan struct{})
	var pollWG sync.WaitGroup
	if d.config.OnProgress != nil {
		pollWG.Add(1)
		go func() {
			defer pollWG.Done()
			ticker := time.NewTicker(d.config.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-pollStop:
					return
				case <-ticker.C:
					d.config.OnProgress(done.Load(), total)
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for w := 1; w <= d.config.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			runner, err := d.factory(ctx, worker)
			if err != nil {
				d.config.Logger.Printf("worker %d setup failed: %v", worker, err)
				record(Result{Worker: worker, Fatal: true, Err: fmt.Errorf("%w: %v", ErrWorkerSetup, err)})
				return
			}
			defer func() {
				if err := runner.Close(); err != nil {
					d.config.Logger.Printf("worker %d close: %v", worker, err)
				}
			}()

			for item := range queue {
				itemStart := time.Now()
				n, err := runner.Run(ctx, item)
				done.Add(1)
				record(Result{
					ItemID:   item.ID,
					Target:   item.Unit.Target,
					Worker:   worker,
					Objects:  n,
					Err:      err,
					Duration: time.Since(itemStart),
				})
				if err != nil {
					d.config.Logger.Printf("worker %d: item %d (%s) failed: %v", worker, item.ID, item.Unit.Target, err)
				}
			}
		}(w)
	}

	wg.Wait()

	// Items still queued mean every worker exited early; account for them
	// explicitly so progress reaches 100%.
	for item := range queue {
		done.Add(1)
		record(Result{
			ItemID: item.ID,
			Target: item.Unit.Target,
			Err:    fmt.Errorf("%w: item %d never attempted", ErrPoolExhausted, item.ID),
		})
	}

	close(pollStop)
	pollWG.Wait()
	if d.config.OnProgress != nil {
		d.config.OnProgress(done.Load(), total)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ItemID < results[j].ItemID })

	outcome := &Outcome{
		Results:  results,
		Total:    len(items),
		Duration: time.Since(start),
	}
	for _, r := range results {
		switch {
		case r.Fatal:
			outcome.Fatal++
		case r.Err != nil:
			outcome.Failed++
		default:
			outcome.Done++
		}
	}
	return outcome, nil
}
