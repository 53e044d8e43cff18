package generate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/plan"
	"github.com/cobaltdata/schemaport/internal/provider"
	"github.com/cobaltdata/schemaport/internal/snapshot"
)

// fakeProvider serves a scripted catalog with controllable timestamps,
// which real sqlite cannot supply (its catalog has no per-object
// modification instants, so everything classifies Modified there).
type fakeProvider struct {
	engine  provider.Engine
	types   []catalog.Type
	objects map[catalog.Type][]catalog.Object

	// failName makes scripting fail for any unit led by that object.
	failName string

	mu       sync.Mutex
	sessions int
}

func (f *fakeProvider) Engine() provider.Engine                    { return f.engine }
func (f *fakeProvider) Version(ctx context.Context) (string, error) { return "fake-1.0", nil }
func (f *fakeProvider) SupportedTypes() []catalog.Type             { return f.types }
func (f *fakeProvider) Close() error                               { return nil }

func (f *fakeProvider) NewSession(ctx context.Context) (provider.Session, error) {
	f.mu.Lock()
	f.sessions++
	f.mu.Unlock()
	return &fakeGenSession{p: f}, nil
}

type fakeGenSession struct {
	p *fakeProvider
}

func (s *fakeGenSession) SupportedTypes() []catalog.Type { return s.p.types }

func (s *fakeGenSession) Enumerate(ctx context.Context, t catalog.Type) ([]catalog.Object, error) {
	return s.p.objects[t], nil
}

func (s *fakeGenSession) Lookup(ctx context.Context, id catalog.Identity) (catalog.Object, error) {
	return catalog.Object{}, provider.ErrObjectNotFound
}

func (s *fakeGenSession) Script(ctx context.Context, objs []catalog.Object, opts provider.ScriptOptions) ([]byte, error) {
	if s.p.failName != "" && objs[0].Name == s.p.failName {
		return nil, fmt.Errorf("cannot script %s: %w", objs[0].Name, provider.ErrScriptGeneration)
	}
	var b bytes.Buffer
	if opts.Header {
		b.WriteString("-- fake artifact\n")
	}
	for _, o := range objs {
		fmt.Fprintf(&b, "CREATE %s %s;\n", strings.ToUpper(string(o.Type)), o.Name)
	}
	return b.Bytes(), nil
}

func (s *fakeGenSession) Execute(ctx context.Context, script []byte) error        { return nil }
func (s *fakeGenSession) SuspendConstraints(ctx context.Context) error            { return nil }
func (s *fakeGenSession) RestoreConstraints(ctx context.Context) error            { return nil }
func (s *fakeGenSession) CheckConstraints(ctx context.Context) ([]provider.Violation, error) {
	return nil, nil
}
func (s *fakeGenSession) Close() error { return nil }

var fixedInstant = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newFakeProvider builds a small catalog: two tables, a view, and data,
// all timestamped so delta classification has something to compare.
func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		engine: provider.EngineSQLite,
		types:  []catalog.Type{catalog.TypeTable, catalog.TypeView, catalog.TypeData},
		objects: map[catalog.Type][]catalog.Object{
			catalog.TypeTable: {
				{Type: catalog.TypeTable, Schema: "main", Name: "customers", ModifiedAt: fixedInstant},
				{Type: catalog.TypeTable, Schema: "main", Name: "orders", ModifiedAt: fixedInstant},
			},
			catalog.TypeView: {
				{Type: catalog.TypeView, Schema: "main", Name: "order_totals", ModifiedAt: fixedInstant},
			},
			catalog.TypeData: {
				{Type: catalog.TypeData, Schema: "main", Name: "customers", ModifiedAt: fixedInstant},
			},
		},
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		OutputDir:    t.TempDir(),
		Grouping:     plan.DefaultGrouping(),
		Workers:      2,
		PollInterval: time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	}
}

func runPipeline(t *testing.T, prov provider.Provider, cfg *Config) *Summary {
	t.Helper()
	p, err := New(prov, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return summary
}

func TestRun_FullGeneration(t *testing.T) {
	cfg := testConfig(t)
	summary := runPipeline(t, newFakeProvider(), cfg)

	if summary.Objects != 4 || summary.Items != 4 {
		t.Errorf("Expected 4 objects / 4 items, got %d / %d", summary.Objects, summary.Items)
	}
	if !summary.Clean() || summary.Written != 4 || summary.Copied != 0 {
		t.Errorf("Expected a clean full run, got %+v", summary)
	}
	if summary.Delta != nil {
		t.Error("Expected no delta summary on a full run")
	}

	for _, rel := range []string{
		"08_tables/table.main.customers.sql",
		"08_tables/table.main.orders.sql",
		"09_views/view.main.order_totals.sql",
		"20_data/data.main.customers.sql",
		SnapshotName,
		OrderName,
	} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, rel)); err != nil {
			t.Errorf("Expected %s to exist: %v", rel, err)
		}
	}

	body, err := os.ReadFile(filepath.Join(cfg.OutputDir, "08_tables", "table.main.customers.sql"))
	if err != nil {
		t.Fatalf("Failed to read artifact: %v", err)
	}
	if !strings.Contains(string(body), "CREATE TABLE customers;") {
		t.Errorf("Unexpected artifact body: %s", body)
	}
}

func TestRun_OnStartCallback(t *testing.T) {
	cfg := testConfig(t)
	var gotObjects, gotUnits, gotItems int
	var gotDelta bool
	cfg.OnStart = func(objects, units, items int, delta bool) {
		gotObjects, gotUnits, gotItems = objects, units, items
		gotDelta = delta
	}

	runPipeline(t, newFakeProvider(), cfg)

	if gotObjects != 4 || gotUnits != 4 || gotItems != 4 {
		t.Errorf("Expected OnStart(4, 4, 4), got (%d, %d, %d)", gotObjects, gotUnits, gotItems)
	}
	if gotDelta {
		t.Error("Expected a full run to report delta=false")
	}
}

func TestRun_SnapshotContents(t *testing.T) {
	cfg := testConfig(t)
	summary := runPipeline(t, newFakeProvider(), cfg)

	snap, err := snapshot.Read(summary.SnapshotPath)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	if len(snap.Records) != 4 {
		t.Errorf("Expected 4 snapshot records, got %d", len(snap.Records))
	}
	rec, found := snap.Lookup(catalog.Identity{Type: catalog.TypeTable, Schema: "main", Name: "customers"})
	if !found {
		t.Fatal("Expected customers in the snapshot")
	}
	if rec.Artifact != "08_tables/table.main.customers.sql" {
		t.Errorf("Unexpected artifact path %q", rec.Artifact)
	}
	if rec.ModifiedAt == nil || !rec.ModifiedAt.Equal(fixedInstant) {
		t.Errorf("Expected the enumeration instant recorded, got %v", rec.ModifiedAt)
	}
	if snap.Grouping() != catalog.GroupPerObject {
		t.Errorf("Unexpected snapshot grouping %q", snap.Header.Grouping)
	}
}

func TestRun_OrderListing(t *testing.T) {
	cfg := testConfig(t)
	summary := runPipeline(t, newFakeProvider(), cfg)

	data, err := os.ReadFile(summary.OrderPath)
	if err != nil {
		t.Fatalf("Failed to read order listing: %v", err)
	}
	var listing orderListing
	if err := yaml.Unmarshal(data, &listing); err != nil {
		t.Fatalf("Failed to parse order listing: %v", err)
	}

	if len(listing.Buckets) != 3 {
		t.Fatalf("Expected 3 buckets, got %d", len(listing.Buckets))
	}
	for i := 1; i < len(listing.Buckets); i++ {
		if listing.Buckets[i].Ordinal <= listing.Buckets[i-1].Ordinal {
			t.Errorf("Expected ascending ordinals, got %v then %v",
				listing.Buckets[i-1].Ordinal, listing.Buckets[i].Ordinal)
		}
	}
	tables := listing.Buckets[0]
	if tables.Directory != "08_tables" || tables.Units != 2 {
		t.Errorf("Unexpected tables entry %+v", tables)
	}
}

func TestRun_PerSchemaGrouping(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grouping = plan.Grouping{Default: catalog.GroupPerSchema}
	summary := runPipeline(t, newFakeProvider(), cfg)

	// Both tables share one per-schema unit; view and data stay alone in
	// their buckets.
	if summary.Items != 3 {
		t.Errorf("Expected 3 units, got %d", summary.Items)
	}
	body, err := os.ReadFile(filepath.Join(cfg.OutputDir, "08_tables", "001_main.sql"))
	if err != nil {
		t.Fatalf("Failed to read per-schema artifact: %v", err)
	}
	if !strings.Contains(string(body), "customers") || !strings.Contains(string(body), "orders") {
		t.Errorf("Expected both tables in one artifact, got: %s", body)
	}
	if strings.Count(string(body), "-- fake artifact") != 1 {
		t.Errorf("Expected exactly one header in a concatenated artifact, got: %s", body)
	}
}

func TestRun_ScriptFailureRecorded(t *testing.T) {
	prov := newFakeProvider()
	prov.failName = "orders"
	cfg := testConfig(t)
	summary := runPipeline(t, prov, cfg)

	if summary.Failed != 1 || summary.Written != 3 {
		t.Errorf("Expected 1 failed / 3 written, got %d / %d", summary.Failed, summary.Written)
	}

	// Failed items stay out of the snapshot so the next delta run
	// regenerates them.
	snap, err := snapshot.Read(summary.SnapshotPath)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	if _, found := snap.Lookup(catalog.Identity{Type: catalog.TypeTable, Schema: "main", Name: "orders"}); found {
		t.Error("Expected the failed item's object to be omitted from the snapshot")
	}
	if len(snap.Records) != 3 {
		t.Errorf("Expected 3 snapshot records, got %d", len(snap.Records))
	}
}

func TestRun_DeltaAllUnchanged(t *testing.T) {
	cfg := testConfig(t)
	runPipeline(t, newFakeProvider(), cfg)

	cfg.Delta = true
	summary := runPipeline(t, newFakeProvider(), cfg)

	if summary.Delta == nil {
		t.Fatal("Expected a delta summary")
	}
	if summary.Delta.Unchanged != 4 {
		t.Errorf("Expected 4 unchanged, got %+v", summary.Delta)
	}
	if summary.Copied != 4 || summary.Written != 0 {
		t.Errorf("Expected 4 copied / 0 written, got %d / %d", summary.Copied, summary.Written)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "09_views", "view.main.order_totals.sql")); err != nil {
		t.Errorf("Expected copied artifact to remain in place: %v", err)
	}
}

func TestRun_DeltaModifiedRegenerates(t *testing.T) {
	cfg := testConfig(t)
	runPipeline(t, newFakeProvider(), cfg)

	prov := newFakeProvider()
	prov.objects[catalog.TypeTable][1].ModifiedAt = fixedInstant.Add(time.Hour)
	cfg.Delta = true
	summary := runPipeline(t, prov, cfg)

	if summary.Delta.Modified != 1 || summary.Delta.Unchanged != 3 {
		t.Errorf("Expected 1 modified / 3 unchanged, got %+v", summary.Delta)
	}
	if summary.Written != 1 || summary.Copied != 3 {
		t.Errorf("Expected 1 written / 3 copied, got %d / %d", summary.Written, summary.Copied)
	}

	snap, err := snapshot.Read(summary.SnapshotPath)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	rec, found := snap.Lookup(catalog.Identity{Type: catalog.TypeTable, Schema: "main", Name: "orders"})
	if !found || rec.ModifiedAt == nil || !rec.ModifiedAt.Equal(fixedInstant.Add(time.Hour)) {
		t.Errorf("Expected the new instant in the rewritten snapshot, got %+v", rec)
	}
}

func TestRun_DeltaNewObject(t *testing.T) {
	cfg := testConfig(t)
	runPipeline(t, newFakeProvider(), cfg)

	prov := newFakeProvider()
	prov.objects[catalog.TypeView] = append(prov.objects[catalog.TypeView],
		catalog.Object{Type: catalog.TypeView, Schema: "main", Name: "daily_totals", ModifiedAt: fixedInstant})
	cfg.Delta = true
	summary := runPipeline(t, prov, cfg)

	if summary.Delta.New != 1 {
		t.Errorf("Expected 1 new, got %+v", summary.Delta)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "09_views", "view.main.daily_totals.sql")); err != nil {
		t.Errorf("Expected the new view's artifact: %v", err)
	}
}

func TestRun_DeltaDeletedReported(t *testing.T) {
	cfg := testConfig(t)
	runPipeline(t, newFakeProvider(), cfg)

	prov := newFakeProvider()
	prov.objects[catalog.TypeView] = nil
	cfg.Delta = true
	summary := runPipeline(t, prov, cfg)

	if summary.Deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", summary.Deleted)
	}

	// The rewritten snapshot no longer knows the vanished view.
	snap, err := snapshot.Read(summary.SnapshotPath)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	if _, found := snap.Lookup(catalog.Identity{Type: catalog.TypeView, Schema: "main", Name: "order_totals"}); found {
		t.Error("Expected the deleted view out of the snapshot")
	}
}

func TestRun_DeltaMissingPriorArtifactRegenerates(t *testing.T) {
	cfg := testConfig(t)
	runPipeline(t, newFakeProvider(), cfg)

	pruned := filepath.Join(cfg.OutputDir, "08_tables", "table.main.customers.sql")
	if err := os.Remove(pruned); err != nil {
		t.Fatalf("Failed to prune artifact: %v", err)
	}

	cfg.Delta = true
	summary := runPipeline(t, newFakeProvider(), cfg)

	if summary.Written != 1 || summary.Copied != 3 {
		t.Errorf("Expected the pruned unit regenerated (1 written / 3 copied), got %d / %d",
			summary.Written, summary.Copied)
	}
	if _, err := os.Stat(pruned); err != nil {
		t.Errorf("Expected the artifact back in place: %v", err)
	}
}

func TestRun_DeltaWithoutPriorSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Delta = true
	summary := runPipeline(t, newFakeProvider(), cfg)

	if summary.Delta != nil {
		t.Error("Expected a full run when no prior snapshot exists")
	}
	if summary.Written != 4 || summary.Copied != 0 {
		t.Errorf("Expected 4 written / 0 copied, got %d / %d", summary.Written, summary.Copied)
	}
}

func TestRun_DeltaRejectsCoarseGrouping(t *testing.T) {
	cfg := testConfig(t)
	cfg.Delta = true
	cfg.Grouping = plan.Grouping{Default: catalog.GroupPerSchema}

	p, err := New(newFakeProvider(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = p.Run(context.Background())
	if err == nil {
		t.Fatal("Expected delta with per-schema grouping to be rejected")
	}
	if !strings.Contains(err.Error(), "per-object") {
		t.Errorf("Expected the error to name the required mode, got: %v", err)
	}

	// Rejected before any artifact is produced.
	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatalf("Failed to read output dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no output, found %d entries", len(entries))
	}
}

func TestRun_SecretInventory(t *testing.T) {
	prov := newFakeProvider()
	prov.engine = provider.EngineLibSQL
	prov.types = append(prov.types, catalog.TypeUser)
	prov.objects[catalog.TypeUser] = []catalog.Object{
		{Type: catalog.TypeUser, Name: "svc_replicator", ModifiedAt: fixedInstant},
	}

	cfg := testConfig(t)
	summary := runPipeline(t, prov, cfg)

	snap, err := snapshot.Read(summary.SnapshotPath)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	var hasUser, hasToken bool
	for _, s := range snap.Header.SecretObjects {
		if strings.Contains(s, "svc_replicator") {
			hasUser = true
		}
		if strings.Contains(s, "auth-token") {
			hasToken = true
		}
	}
	if !hasUser || !hasToken {
		t.Errorf("Expected principal and auth-token entries, got %v", snap.Header.SecretObjects)
	}
}

func TestRun_WorkerSessions(t *testing.T) {
	prov := newFakeProvider()
	cfg := testConfig(t)
	cfg.Workers = 3
	runPipeline(t, prov, cfg)

	// One enumeration session plus one per worker.
	if prov.sessions != 4 {
		t.Errorf("Expected 4 sessions (1 enumeration + 3 workers), got %d", prov.sessions)
	}
}
