package apply

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/provider"
	"github.com/cobaltdata/schemaport/internal/provider/sqlite"
)

// newSQLiteSession opens a fresh target database for replay tests.
func newSQLiteSession(t *testing.T) provider.Session {
	t.Helper()
	p, err := sqlite.New(filepath.Join(t.TempDir(), "target.db"), provider.Options{})
	if err != nil {
		t.Fatalf("Failed to open target: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	sess, err := p.NewSession(context.Background())
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func enumerateNames(t *testing.T, sess provider.Session, typ catalog.Type) []string {
	t.Helper()
	objs, err := sess.Enumerate(context.Background(), typ)
	if err != nil {
		t.Fatalf("Failed to enumerate %s: %v", typ, err)
	}
	var names []string
	for _, o := range objs {
		if !o.System {
			names = append(names, o.Name)
		}
	}
	return names
}

func TestRun_SQLiteEndToEnd(t *testing.T) {
	dir := writeRun(t, map[string]string{
		"08_tables/table.main.customers.sql": "CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL);\n",
		"08_tables/table.main.orders.sql": "CREATE TABLE orders (id INTEGER PRIMARY KEY, " +
			"customer_id INTEGER NOT NULL REFERENCES customers(id), total REAL);\n",
		"10_indexes/index.main.idx_orders_customer.sql": "CREATE INDEX idx_orders_customer ON orders(customer_id);\n",
		"20_data/data.main.customers.sql":               "INSERT INTO customers (id, name) VALUES (1, 'acme'), (2, 'globex');\n",
		"20_data/data.main.orders.sql":                  "INSERT INTO orders (id, customer_id, total) VALUES (10, 1, 9.5), (11, 2, 12.0);\n",
	})

	sess := newSQLiteSession(t)
	eng, err := New(sess, quietConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	report, err := eng.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Applied != 5 || report.Failed != 0 {
		t.Errorf("Expected 5 applied / 0 failed, got %d / %d", report.Applied, report.Failed)
	}
	if len(report.Violations) != 0 {
		t.Errorf("Expected consistent data to validate clean, got %v", report.Violations)
	}

	tables := enumerateNames(t, sess, catalog.TypeTable)
	if len(tables) != 2 {
		t.Errorf("Expected customers and orders in the target, got %v", tables)
	}
	indexes := enumerateNames(t, sess, catalog.TypeIndex)
	if len(indexes) != 1 || indexes[0] != "idx_orders_customer" {
		t.Errorf("Expected the index in the target, got %v", indexes)
	}
}

func TestRun_SQLiteForwardReference(t *testing.T) {
	// a_touch references audit, which a later artifact in the same bucket
	// creates, so the first pass defers it and the second succeeds.
	dir := writeRun(t, map[string]string{
		"08_tables/table.main.base.sql": "CREATE TABLE base (id INTEGER PRIMARY KEY);\n",
		"14_triggers/trigger.main.a_touch.sql": "CREATE TRIGGER a_touch AFTER INSERT ON base " +
			"BEGIN INSERT INTO audit (note) VALUES ('insert'); END;\n",
		"14_triggers/trigger.main.b_audit.sql": "CREATE TABLE audit (note TEXT);\n" +
			"CREATE TRIGGER b_audit AFTER DELETE ON base BEGIN DELETE FROM audit; END;\n",
	})

	sess := newSQLiteSession(t)
	eng, err := New(sess, quietConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	report, err := eng.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Applied != 3 || report.Failed != 0 {
		t.Errorf("Expected 3 applied / 0 failed, got %d / %d", report.Applied, report.Failed)
	}

	triggers := report.Buckets[len(report.Buckets)-1]
	if triggers.Passes != 2 {
		t.Errorf("Expected the forward reference to take 2 passes, got %d", triggers.Passes)
	}
	a := resultByName(t, triggers, "trigger.main.a_touch.sql")
	if a.Attempts != 2 || a.State != StateApplied {
		t.Errorf("Expected a_touch applied on attempt 2, got %s after %d", a.State, a.Attempts)
	}

	names := enumerateNames(t, sess, catalog.TypeTrigger)
	if len(names) != 2 {
		t.Errorf("Expected both triggers in the target, got %v", names)
	}
}

func TestRun_SQLitePermanentFailure(t *testing.T) {
	dir := writeRun(t, map[string]string{
		"14_triggers/trigger.main.orphan.sql": "CREATE TRIGGER orphan AFTER INSERT ON missing " +
			"BEGIN SELECT 1; END;\n",
	})

	sess := newSQLiteSession(t)
	eng, err := New(sess, quietConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	report, err := eng.Run(context.Background(), dir)
	if err == nil {
		t.Fatal("Expected the run to stop on the unresolved trigger")
	}
	if report.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", report.Failed)
	}
	br := report.Buckets[0]
	if br.Passes != 1 {
		t.Errorf("Expected zero progress to end the loop after pass 1, got %d", br.Passes)
	}
	res := resultByName(t, br, "trigger.main.orphan.sql")
	if !errors.Is(res.Err, provider.ErrDependencyUnresolved) {
		t.Errorf("Expected unresolved-dependency detail, got %v", res.Err)
	}
}

func TestRun_SQLiteViolationReporting(t *testing.T) {
	dir := writeRun(t, map[string]string{
		"08_tables/table.main.customers.sql": "CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL);\n",
		"08_tables/table.main.orders.sql": "CREATE TABLE orders (id INTEGER PRIMARY KEY, " +
			"customer_id INTEGER NOT NULL REFERENCES customers(id), total REAL);\n",
		"20_data/data.main.customers.sql": "INSERT INTO customers (id, name) VALUES (1, 'acme');\n",
		"20_data/data.main.orders.sql":    "INSERT INTO orders (id, customer_id, total) VALUES (10, 999, 9.5);\n",
	})

	sess := newSQLiteSession(t)
	eng, err := New(sess, quietConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	report, err := eng.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Expected violations to be reported without aborting, got: %v", err)
	}
	if report.Applied != 4 || report.Failed != 0 {
		t.Errorf("Expected all units applied, got %d / %d", report.Applied, report.Failed)
	}
	if len(report.Violations) != 1 {
		t.Fatalf("Expected exactly 1 violation, got %v", report.Violations)
	}
	v := report.Violations[0]
	if v.Constraint != "orders->customers (fk 0)" {
		t.Errorf("Expected the violating constraint by name, got %q", v.Constraint)
	}
	if v.Rows != 1 {
		t.Errorf("Expected 1 violating row, got %d", v.Rows)
	}
}
