package plan

import (
	"testing"

	"github.com/cobaltdata/schemaport/internal/catalog"
)

func sampleObjects() []catalog.Object {
	return []catalog.Object{
		{Type: catalog.TypeTable, Schema: "main", Name: "users"},
		{Type: catalog.TypeTable, Schema: "main", Name: "orders"},
		{Type: catalog.TypeTable, Schema: "app", Name: "events"},
		{Type: catalog.TypeIndex, Schema: "main", Name: "idx_orders_user"},
		{Type: catalog.TypeView, Schema: "main", Name: "active_users"},
		{Type: catalog.TypeData, Schema: "main", Name: "users"},
	}
}

func TestPlanPerObject(t *testing.T) {
	p := NewPlanner(Grouping{Default: catalog.GroupPerObject})
	units, err := p.Plan(sampleObjects())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	if len(units) != 6 {
		t.Fatalf("Plan() produced %d units, want 6", len(units))
	}
	for _, u := range units {
		if len(u.Objects) != 1 {
			t.Errorf("per-object unit holds %d objects, want 1", len(u.Objects))
		}
	}

	// Deterministic bucket-ascending order: tables (8), view (9), index (10), data (20).
	wantOrdinals := []int{8, 8, 8, 9, 10, 20}
	for i, u := range units {
		if u.Bucket.Ordinal != wantOrdinals[i] {
			t.Errorf("unit %d ordinal = %d, want %d", i, u.Bucket.Ordinal, wantOrdinals[i])
		}
	}
}

func TestPlanPerSchema(t *testing.T) {
	p := NewPlanner(Grouping{Default: catalog.GroupPerSchema})
	units, err := p.Plan(sampleObjects())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	// (8, app), (8, main), (9, main), (10, main), (20, main).
	if len(units) != 5 {
		t.Fatalf("Plan() produced %d units, want 5: %+v", len(units), units)
	}

	var mainTables *Unit
	for i := range units {
		u := &units[i]
		if u.Bucket.Ordinal == 8 && u.Schema() == "main" {
			mainTables = u
		}
	}
	if mainTables == nil {
		t.Fatal("no (tables, main) unit")
	}
	if len(mainTables.Objects) != 2 {
		t.Fatalf("(tables, main) holds %d objects, want 2", len(mainTables.Objects))
	}
	if mainTables.Objects[0].Name != "orders" || mainTables.Objects[1].Name != "users" {
		t.Errorf("members not in (schema, name) order: %v", mainTables.Objects)
	}
}

func TestPlanPerType(t *testing.T) {
	p := NewPlanner(Grouping{Default: catalog.GroupPerType})
	units, err := p.Plan(sampleObjects())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	// table, view, index, data.
	if len(units) != 4 {
		t.Fatalf("Plan() produced %d units, want 4", len(units))
	}
	if units[0].Type() != catalog.TypeTable || len(units[0].Objects) != 3 {
		t.Errorf("first unit = %s with %d objects, want table with 3", units[0].Type(), len(units[0].Objects))
	}
}

func TestPlanPerTypeOverride(t *testing.T) {
	g := Grouping{
		Default: catalog.GroupPerObject,
		PerType: map[catalog.Type]catalog.GroupingMode{
			catalog.TypeTable: catalog.GroupPerType,
		},
	}
	p := NewPlanner(g)
	units, err := p.Plan(sampleObjects())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	// One combined table unit + three per-object units.
	if len(units) != 4 {
		t.Fatalf("Plan() produced %d units, want 4", len(units))
	}
	if units[0].Type() != catalog.TypeTable || len(units[0].Objects) != 3 {
		t.Errorf("override did not group tables: %+v", units[0])
	}
}

func TestPlanTagsBulkLoadUnits(t *testing.T) {
	p := NewPlanner(DefaultGrouping())
	units, err := p.Plan(sampleObjects())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	for _, u := range units {
		want := ""
		if u.Type() == catalog.TypeData {
			want = HandlerBulkLoad
		}
		if u.Handler != want {
			t.Errorf("unit %s handler = %q, want %q", u.Type(), u.Handler, want)
		}
	}
}

func TestPlanSharedBucketPriorityOrder(t *testing.T) {
	objs := []catalog.Object{
		{Type: catalog.TypeProcedure, Schema: "main", Name: "refresh"},
		{Type: catalog.TypeFunction, Schema: "main", Name: "total"},
		{Type: catalog.TypeGrant, Schema: "", Name: "g_reports"},
		{Type: catalog.TypeUser, Schema: "", Name: "reporting"},
		{Type: catalog.TypeRole, Schema: "", Name: "readers"},
	}

	p := NewPlanner(Grouping{Default: catalog.GroupPerObject})
	units, err := p.Plan(objs)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	want := []catalog.Type{
		catalog.TypeFunction, catalog.TypeProcedure,
		catalog.TypeUser, catalog.TypeRole, catalog.TypeGrant,
	}
	if len(units) != len(want) {
		t.Fatalf("Plan() produced %d units, want %d", len(units), len(want))
	}
	for i, w := range want {
		if units[i].Type() != w {
			t.Errorf("unit %d type = %s, want %s", i, units[i].Type(), w)
		}
	}
}

func TestPlanStable(t *testing.T) {
	// Same catalog in shuffled input order must yield the same unit
	// sequence.
	objs := sampleObjects()
	reversed := make([]catalog.Object, len(objs))
	for i, o := range objs {
		reversed[len(objs)-1-i] = o
	}

	p := NewPlanner(Grouping{Default: catalog.GroupPerSchema})
	a, err := p.Plan(objs)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	b, err := p.Plan(reversed)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("unit counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Bucket != b[i].Bucket || a[i].Schema() != b[i].Schema() || len(a[i].Objects) != len(b[i].Objects) {
			t.Errorf("unit %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestPlanRejectsUnknownType(t *testing.T) {
	p := NewPlanner(DefaultGrouping())
	if _, err := p.Plan([]catalog.Object{{Type: "tablespace", Name: "x"}}); err == nil {
		t.Error("Plan() accepted an object with no bucket assignment")
	}
}

func TestGroupingPerObjectOnly(t *testing.T) {
	tests := []struct {
		name string
		g    Grouping
		want bool
	}{
		{"default per-object", DefaultGrouping(), true},
		{"default per-schema", Grouping{Default: catalog.GroupPerSchema}, false},
		{
			"override breaks it",
			Grouping{
				Default: catalog.GroupPerObject,
				PerType: map[catalog.Type]catalog.GroupingMode{catalog.TypeData: catalog.GroupPerType},
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.g.PerObjectOnly(); got != tt.want {
				t.Errorf("PerObjectOnly() = %v, want %v", got, tt.want)
			}
		})
	}
}
