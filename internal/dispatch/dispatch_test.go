package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/cobaltdata/schemaport/internal/plan"
)

func quietConfig(workers int) *Config {
	return &Config{
		Workers:      workers,
		PollInterval: time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	}
}

func makeItems(n int) []plan.WorkItem {
	items := make([]plan.WorkItem, n)
	for i := range items {
		items[i] = plan.WorkItem{
			ID:   i + 1,
			Unit: plan.Unit{Target: fmt.Sprintf("08_tables/table.main.t%03d.sql", i+1)},
		}
	}
	return items
}

// fakeRunner counts runs and fails the items its fail func rejects.
type fakeRunner struct {
	fail func(item plan.WorkItem) error
}

func (r *fakeRunner) Run(ctx context.Context, item plan.WorkItem) (int, error) {
	if r.fail != nil {
		if err := r.fail(item); err != nil {
			return 0, err
		}
	}
	return 1, nil
}

func (r *fakeRunner) Close() error { return nil }

func okFactory(ctx context.Context, worker int) (Runner, error) {
	return &fakeRunner{}, nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, quietConfig(4)); err == nil {
		t.Error("Expected error for nil factory")
	}
	if _, err := New(okFactory, quietConfig(0)); err == nil {
		t.Error("Expected error for zero workers")
	}
	if _, err := New(okFactory, quietConfig(MaxWorkers+1)); err == nil {
		t.Errorf("Expected error for more than %d workers", MaxWorkers)
	}
	if _, err := New(okFactory, nil); err != nil {
		t.Errorf("Expected nil config to use defaults: %v", err)
	}
}

// TestRun_ThroughputAccounting drives 37 items through 4 workers and checks
// the books balance: one result per item, no duplicate ids, counter at 37.
func TestRun_ThroughputAccounting(t *testing.T) {
	const workers, queued = 4, 37

	var (
		mu       sync.Mutex
		lastDone int64
	)
	cfg := quietConfig(workers)
	cfg.OnProgress = func(done, total int64) {
		mu.Lock()
		lastDone = done
		mu.Unlock()
		if total != queued {
			t.Errorf("total = %d, want %d", total, queued)
		}
	}

	d, err := New(okFactory, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	outcome, err := d.Run(context.Background(), makeItems(queued))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(outcome.Results) != queued {
		t.Errorf("Results = %d, want %d", len(outcome.Results), queued)
	}
	if outcome.Done != queued || outcome.Failed != 0 || outcome.Fatal != 0 {
		t.Errorf("Done/Failed/Fatal = %d/%d/%d, want %d/0/0",
			outcome.Done, outcome.Failed, outcome.Fatal, queued)
	}

	seen := make(map[int]bool)
	for _, r := range outcome.Results {
		if seen[r.ItemID] {
			t.Errorf("Duplicate item id %d in results", r.ItemID)
		}
		seen[r.ItemID] = true
	}

	mu.Lock()
	defer mu.Unlock()
	if lastDone != queued {
		t.Errorf("Final progress = %d, want %d", lastDone, queued)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	factory := func(ctx context.Context, worker int) (Runner, error) {
		return &fakeRunner{fail: func(item plan.WorkItem) error {
			if item.ID%3 == 0 {
				return fmt.Errorf("item %d rejected", item.ID)
			}
			return nil
		}}, nil
	}

	d, err := New(factory, quietConfig(4))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	outcome, err := d.Run(context.Background(), makeItems(10))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if len(outcome.Results) != 10 {
		t.Fatalf("Results = %d, want 10", len(outcome.Results))
	}
	if outcome.Failed != 3 {
		t.Errorf("Failed = %d, want 3 (items 3, 6, 9)", outcome.Failed)
	}
	if outcome.Done != 7 {
		t.Errorf("Done = %d, want 7", outcome.Done)
	}

	for _, r := range outcome.Results {
		wantErr := r.ItemID%3 == 0
		if wantErr && r.Err == nil {
			t.Errorf("Item %d should have failed", r.ItemID)
		}
		if !wantErr && r.Err != nil {
			t.Errorf("Item %d should have succeeded: %v", r.ItemID, r.Err)
		}
	}
}

func TestRun_WorkerSetupFailure(t *testing.T) {
	factory := func(ctx context.Context, worker int) (Runner, error) {
		if worker == 2 {
			return nil, errors.New("connection refused")
		}
		return &fakeRunner{}, nil
	}

	d, err := New(factory, quietConfig(4))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	outcome, err := d.Run(context.Background(), makeItems(12))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	// One fatal record for the dead worker, the survivors drain the queue
	if outcome.Fatal != 1 {
		t.Errorf("Fatal = %d, want 1", outcome.Fatal)
	}
	if outcome.Done != 12 {
		t.Errorf("Done = %d, want 12", outcome.Done)
	}
	if len(outcome.Results) != 13 {
		t.Errorf("Results = %d, want 13 (12 items + 1 setup failure)", len(outcome.Results))
	}

	var fatal *Result
	for i := range outcome.Results {
		if outcome.Results[i].Fatal {
			fatal = &outcome.Results[i]
		}
	}
	if fatal == nil {
		t.Fatal("Expected a fatal setup result")
	}
	if fatal.ItemID != 0 {
		t.Errorf("Fatal record ItemID = %d, want 0", fatal.ItemID)
	}
	if !errors.Is(fatal.Err, ErrWorkerSetup) {
		t.Errorf("Expected ErrWorkerSetup, got: %v", fatal.Err)
	}
}

// TestRun_AllWorkersFailSetup is the no-deadlock case: the coordinator must
// return with full accounting even though nothing processed the queue.
func TestRun_AllWorkersFailSetup(t *testing.T) {
	factory := func(ctx context.Context, worker int) (Runner, error) {
		return nil, errors.New("connection refused")
	}

	var (
		mu       sync.Mutex
		lastDone int64
	)
	cfg := quietConfig(3)
	cfg.OnProgress = func(done, total int64) {
		mu.Lock()
		lastDone = done
		mu.Unlock()
	}

	d, err := New(factory, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	const queued = 8
	done := make(chan *Outcome, 1)
	go func() {
		outcome, err := d.Run(context.Background(), makeItems(queued))
		if err != nil {
			t.Errorf("Run() failed: %v", err)
		}
		done <- outcome
	}()

	var outcome *Outcome
	select {
	case outcome = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() deadlocked with all workers failing setup")
	}

	if outcome.Fatal != 3 {
		t.Errorf("Fatal = %d, want 3", outcome.Fatal)
	}
	if outcome.Failed != queued {
		t.Errorf("Failed = %d, want %d", outcome.Failed, queued)
	}
	if len(outcome.Results) != queued+3 {
		t.Errorf("Results = %d, want %d", len(outcome.Results), queued+3)
	}

	for _, r := range outcome.Results {
		if r.ItemID == 0 {
			continue
		}
		if !errors.Is(r.Err, ErrPoolExhausted) {
			t.Errorf("Item %d: expected ErrPoolExhausted, got: %v", r.ItemID, r.Err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if lastDone != queued {
		t.Errorf("Final progress = %d, want %d", lastDone, queued)
	}
}

func TestRun_ProgressPolling(t *testing.T) {
	factory := func(ctx context.Context, worker int) (Runner, error) {
		return &fakeRunner{fail: func(item plan.WorkItem) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		}}, nil
	}

	var (
		mu    sync.Mutex
		calls []int64
	)
	cfg := quietConfig(2)
	cfg.OnProgress = func(done, total int64) {
		mu.Lock()
		calls = append(calls, done)
		mu.Unlock()
	}

	d, err := New(factory, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, err := d.Run(context.Background(), makeItems(8)); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) < 2 {
		t.Fatalf("Expected at least one poll tick plus the final report, got %d calls", len(calls))
	}
	if calls[len(calls)-1] != 8 {
		t.Errorf("Final progress = %d, want 8", calls[len(calls)-1])
	}
	for i := 1; i < len(calls); i++ {
		if calls[i] < calls[i-1] {
			t.Errorf("Progress went backwards: %v", calls)
		}
	}
}

func TestRun_Empty(t *testing.T) {
	d, err := New(okFactory, quietConfig(2))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	outcome, err := d.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if outcome.Total != 0 || len(outcome.Results) != 0 {
		t.Errorf("Expected empty outcome, got %+v", outcome)
	}
}

func TestOutcome_Failures(t *testing.T) {
	factory := func(ctx context.Context, worker int) (Runner, error) {
		return &fakeRunner{fail: func(item plan.WorkItem) error {
			if item.ID == 1 {
				return errors.New("boom")
			}
			return nil
		}}, nil
	}

	d, err := New(factory, quietConfig(1))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	outcome, err := d.Run(context.Background(), makeItems(4))
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	failures := outcome.Failures()
	if len(failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(failures))
	}
	if failures[0].ItemID != 1 {
		t.Errorf("Failed item = %d, want 1", failures[0].ItemID)
	}
	if failures[0].Success() {
		t.Error("Failed result must not report success")
	}
}
