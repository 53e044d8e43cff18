// Package watch provides the continuous generation daemon.
//
// The daemon:
// 1. Performs an initial generation run on startup
// 2. Watches the source database file for changes
// 3. Debounces write bursts into a single run
// 4. Handles graceful shutdown
//
// Runs never overlap: changes arriving while a run is in flight are
// queued and trigger one follow-up run after the debounce window.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cobaltdata/schemaport/internal/generate"
	"github.com/fsnotify/fsnotify"
)

// Config holds configuration for the watch daemon.
type Config struct {
	// DebounceInterval is how long the source must stay quiet before a
	// run is triggered. This batches rapid write bursts together.
	DebounceInterval time.Duration

	// PollInterval is how often the change queue is checked.
	PollInterval time.Duration

	// OnRun is called after every generation run with its outcome.
	// Optional; used by the CLI and dashboard to report progress.
	OnRun func(summary *generate.Summary, err error)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		PollInterval:     500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Daemon watches a source database and regenerates migration artifacts.
type Daemon struct {
	pipeline *generate.Pipeline
	source   string
	config   *Config

	watcher    *fsnotify.Watcher
	dirty      bool
	lastChange time.Time
	lastStamp  sourceStamp
	pendingMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon that reruns pipeline whenever the database file at
// source changes.
//
// Use Start() to begin watching.
func New(pipeline *generate.Pipeline, source string) (*Daemon, error) {
	return NewWithConfig(pipeline, source, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(pipeline *generate.Pipeline, source string, config *Config) (*Daemon, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if source == "" {
		return nil, fmt.Errorf("source cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		pipeline: pipeline,
		source:   filepath.Clean(source),
		config:   config,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Perform an initial generation run
// 2. Start watching the source database's directory
// 3. Trigger debounced runs as changes settle
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting watch daemon")

	// Initial run so the output reflects the current source state
	if _, err := d.RunNow(ctx); err != nil {
		return fmt.Errorf("initial run failed: %w", err)
	}

	// Watch the parent directory: watching the file itself breaks when
	// the engine replaces it, and journal siblings live alongside it
	if err := d.watcher.Add(filepath.Dir(d.source)); err != nil {
		return fmt.Errorf("failed to watch source directory: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.source)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChanges()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping watch daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Watch daemon stopped")
	return nil
}

// RunNow performs a generation run immediately, outside the debounce
// cycle. It can be called before Start to prime the output directory.
func (d *Daemon) RunNow(ctx context.Context) (*generate.Summary, error) {
	d.recordStamp(d.stampSource())

	start := time.Now()
	summary, err := d.pipeline.Run(ctx)
	if err != nil {
		d.config.Logger.Printf("Generation run failed: %v", err)
	} else {
		d.config.Logger.Printf("Run complete in %v: %d written, %d copied, %d failed",
			time.Since(start).Round(time.Millisecond), summary.Written, summary.Copied, summary.Failed)
	}
	if d.config.OnRun != nil {
		d.config.OnRun(summary, err)
	}
	return summary, err
}

// watchFileEvents monitors filesystem events and marks the source dirty.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create, Write, Remove, Rename
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if !d.isSourceFile(event.Name) {
				continue
			}

			d.markDirty()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// isSourceFile reports whether path is the source database or one of its
// journal siblings.
func (d *Daemon) isSourceFile(path string) bool {
	switch filepath.Clean(path) {
	case d.source, d.source + "-wal", d.source + "-shm", d.source + "-journal":
		return true
	}
	return false
}

// markDirty records a pending change with its timestamp for debouncing.
func (d *Daemon) markDirty() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	d.dirty = true
	d.lastChange = time.Now()
}

// processChanges triggers a run once queued changes settle.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.takePending() {
				continue
			}
			// Generation itself reads the source and can touch journal
			// siblings, so only changed content triggers a run
			if d.stampSource() == d.currentStamp() {
				continue
			}
			d.config.Logger.Printf("Source changed: %s", d.source)
			_, _ = d.RunNow(d.ctx)
		}
	}
}

// takePending consumes the dirty flag once the debounce window has
// passed. The flag is cleared before the run starts so changes landing
// mid-run queue a follow-up instead of being lost.
func (d *Daemon) takePending() bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if !d.dirty || time.Since(d.lastChange) < d.config.DebounceInterval {
		return false
	}
	d.dirty = false
	return true
}

// sourceStamp fingerprints the source database and its write-ahead log.
type sourceStamp struct {
	mod  [2]time.Time
	size [2]int64
}

// stampSource captures the current source fingerprint. Missing siblings
// stamp as zero values.
func (d *Daemon) stampSource() sourceStamp {
	var s sourceStamp
	for i, path := range [2]string{d.source, d.source + "-wal"} {
		if fi, err := os.Stat(path); err == nil {
			s.mod[i] = fi.ModTime()
			s.size[i] = fi.Size()
		}
	}
	return s
}

func (d *Daemon) recordStamp(s sourceStamp) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.lastStamp = s
}

func (d *Daemon) currentStamp() sourceStamp {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	return d.lastStamp
}
