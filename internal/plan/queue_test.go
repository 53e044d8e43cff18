package plan

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/cobaltdata/schemaport/internal/catalog"
)

func TestBuildQueueAssignsSequentialIDs(t *testing.T) {
	p := NewPlanner(DefaultGrouping())
	units, err := p.Plan(sampleObjects())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	items, err := BuildQueue(units)
	if err != nil {
		t.Fatalf("BuildQueue() error: %v", err)
	}
	if len(items) != len(units) {
		t.Fatalf("BuildQueue() produced %d items for %d units", len(items), len(units))
	}
	for i, item := range items {
		if item.ID != i+1 {
			t.Errorf("item %d has id %d, want %d", i, item.ID, i+1)
		}
		if item.Unit.Target == "" {
			t.Errorf("item %d has empty target", item.ID)
		}
	}
}

func TestTargetFormats(t *testing.T) {
	tests := []struct {
		name string
		unit Unit
		want string
	}{
		{
			name: "per-object with schema",
			unit: Unit{
				Bucket:  catalog.Bucket{Ordinal: 8, Label: "tables"},
				Mode:    catalog.GroupPerObject,
				Objects: []catalog.Object{{Type: catalog.TypeTable, Schema: "main", Name: "users"}},
			},
			want: "08_tables/table.main.users.sql",
		},
		{
			name: "per-object without schema",
			unit: Unit{
				Bucket:  catalog.Bucket{Ordinal: 1, Label: "dbconfig"},
				Mode:    catalog.GroupPerObject,
				Objects: []catalog.Object{{Type: catalog.TypeDatabaseConfig, Name: "user_version"}},
			},
			want: "01_dbconfig/dbconfig.user_version.sql",
		},
		{
			name: "per-schema",
			unit: Unit{
				Bucket:  catalog.Bucket{Ordinal: 8, Label: "tables"},
				Mode:    catalog.GroupPerSchema,
				Objects: []catalog.Object{{Type: catalog.TypeTable, Schema: "app", Name: "events"}},
			},
			want: "08_tables/001_app.sql",
		},
		{
			name: "per-type",
			unit: Unit{
				Bucket:  catalog.Bucket{Ordinal: 19, Label: "security"},
				Mode:    catalog.GroupPerType,
				Objects: []catalog.Object{{Type: catalog.TypeGrant, Name: "g_reports"}},
			},
			want: "19_security/03_grant.sql",
		},
		{
			name: "hostile identifier characters escaped",
			unit: Unit{
				Bucket:  catalog.Bucket{Ordinal: 8, Label: "tables"},
				Mode:    catalog.GroupPerObject,
				Objects: []catalog.Object{{Type: catalog.TypeTable, Schema: "main", Name: "weird/name.here"}},
			},
			want: "08_tables/table.main.weird%2Fname%2Ehere.sql",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := BuildQueue([]Unit{tt.unit})
			if err != nil {
				t.Fatalf("BuildQueue() error: %v", err)
			}
			if got := items[0].Unit.Target; got != tt.want {
				t.Errorf("target = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildQueueDetectsCollision(t *testing.T) {
	// Two distinct units forced onto the same target. The planner can never
	// produce this; the builder must still refuse it.
	bucket := catalog.Bucket{Ordinal: 8, Label: "tables"}
	units := []Unit{
		{
			Bucket:  bucket,
			Mode:    catalog.GroupPerType,
			Objects: []catalog.Object{{Type: catalog.TypeTable, Schema: "main", Name: "users"}},
		},
		{
			Bucket:  bucket,
			Mode:    catalog.GroupPerType,
			Objects: []catalog.Object{{Type: catalog.TypeTable, Schema: "app", Name: "events"}},
		},
	}

	_, err := BuildQueue(units)
	if !errors.Is(err, ErrTargetCollision) {
		t.Errorf("BuildQueue() error = %v, want ErrTargetCollision", err)
	}
}

func TestBuildQueueRejectsEmptyUnit(t *testing.T) {
	_, err := BuildQueue([]Unit{{Bucket: catalog.Bucket{Ordinal: 8, Label: "tables"}}})
	if err == nil {
		t.Error("BuildQueue() accepted a unit with no objects")
	}
}

// Property: over random catalogs and all three grouping modes, no two work
// items ever share an output target.
func TestTargetUniquenessProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	modes := []catalog.GroupingMode{catalog.GroupPerObject, catalog.GroupPerSchema, catalog.GroupPerType}
	types := []catalog.Type{
		catalog.TypeSchema, catalog.TypeSequence, catalog.TypeTable, catalog.TypeView,
		catalog.TypeIndex, catalog.TypeForeignKey, catalog.TypeFunction,
		catalog.TypeProcedure, catalog.TypeTrigger, catalog.TypeUser,
		catalog.TypeRole, catalog.TypeGrant, catalog.TypeData,
	}
	schemas := []string{"main", "app", "audit", "staging"}

	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(120)
		objs := make([]catalog.Object, 0, n)
		seen := make(map[string]bool)
		for len(objs) < n {
			o := catalog.Object{
				Type:   types[rng.Intn(len(types))],
				Schema: schemas[rng.Intn(len(schemas))],
				Name:   fmt.Sprintf("obj_%d", rng.Intn(200)),
			}
			if seen[o.Identity().Key()] {
				continue
			}
			seen[o.Identity().Key()] = true
			objs = append(objs, o)
		}

		for _, mode := range modes {
			p := NewPlanner(Grouping{Default: mode})
			units, err := p.Plan(objs)
			if err != nil {
				t.Fatalf("trial %d mode %s: Plan() error: %v", trial, mode, err)
			}
			items, err := BuildQueue(units)
			if err != nil {
				t.Fatalf("trial %d mode %s: BuildQueue() error: %v", trial, mode, err)
			}

			targets := make(map[string]bool, len(items))
			for _, item := range items {
				if targets[item.Unit.Target] {
					t.Fatalf("trial %d mode %s: duplicate target %q", trial, mode, item.Unit.Target)
				}
				targets[item.Unit.Target] = true

				prefix := item.Unit.Bucket.ArtifactPrefix() + "/"
				if !strings.HasPrefix(item.Unit.Target, prefix) {
					t.Fatalf("trial %d mode %s: target %q outside bucket prefix %q",
						trial, mode, item.Unit.Target, prefix)
				}
			}
		}
	}
}

func TestEscapeIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"users", "users"},
		{"Users_2", "Users_2"},
		{"a.b", "a%2Eb"},
		{"a/b", "a%2Fb"},
		{"a b", "a%20b"},
	}
	for _, tt := range tests {
		if got := escapeIdent(tt.in); got != tt.want {
			t.Errorf("escapeIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
