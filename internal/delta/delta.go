// Package delta classifies catalog objects against a prior run's snapshot
// so generation can regenerate only what changed.
package delta

import (
	"fmt"
	"sort"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/plan"
	"github.com/cobaltdata/schemaport/internal/snapshot"
)

// Classification of one object relative to the prior snapshot.
type Classification string

const (
	// New: present now, absent from the prior snapshot.
	New Classification = "new"

	// Modified: the engine-reported modification instant moved past the
	// recorded one, or the object's type gives no reliable timestamp.
	Modified Classification = "modified"

	// Unchanged: identical identity and a recorded instant that has not
	// moved. Satisfied by copying the prior artifact.
	Unchanged Classification = "unchanged"

	// Deleted: present in the prior snapshot, absent now. Produces no
	// artifact; reported in the run summary.
	Deleted Classification = "deleted"
)

// Record is the classification of one object.
type Record struct {
	Object catalog.Object
	Class  Classification

	// PriorArtifact is the artifact path the prior run recorded for this
	// object; set for Unchanged (the copy source) and Deleted.
	PriorArtifact string
}

// Summary counts classifications for reporting.
type Summary struct {
	New       int
	Modified  int
	Unchanged int
	Deleted   int
}

// String renders the summary the way run logs print it.
func (s Summary) String() string {
	return fmt.Sprintf("%d new, %d modified, %d unchanged, %d deleted",
		s.New, s.Modified, s.Unchanged, s.Deleted)
}

// DefaultAlwaysModified is the stock set of types classified Modified
// regardless of timestamps: types whose catalogs expose no reliable
// per-object modification instant, plus foreign keys and indexes as a
// conservative margin.
func DefaultAlwaysModified() []catalog.Type {
	return []catalog.Type{
		catalog.TypeDatabaseConfig,
		catalog.TypeStorageGroup,
		catalog.TypePartition,
		catalog.TypeUser,
		catalog.TypeRole,
		catalog.TypeGrant,
		catalog.TypeForeignKey,
		catalog.TypeIndex,
	}
}

// Planner classifies a current catalog view against a prior snapshot.
type Planner struct {
	alwaysModified map[catalog.Type]bool
}

// NewPlanner creates a delta planner. A nil alwaysModified list selects
// DefaultAlwaysModified; an explicit empty list disables the override
// entirely.
func NewPlanner(alwaysModified []catalog.Type) *Planner {
	if alwaysModified == nil {
		alwaysModified = DefaultAlwaysModified()
	}
	set := make(map[catalog.Type]bool, len(alwaysModified))
	for _, t := range alwaysModified {
		set[t] = true
	}
	return &Planner{alwaysModified: set}
}

// CheckGrouping rejects delta generation under any grouping mode other than
// per-object. Coarser grouping would let one changed object's delta share an
// artifact with unrelated unchanged objects, corrupting the copy shortcut.
func CheckGrouping(g plan.Grouping) error {
	if !g.PerObjectOnly() {
		return fmt.Errorf("delta generation requires per-object grouping for every type")
	}
	return nil
}

// Classify produces one record per current object plus one Deleted record
// per vanished prior object. Classification is pure: the same catalog and
// snapshot always produce the same records.
func (p *Planner) Classify(current []catalog.Object, prior *snapshot.Snapshot) ([]Record, error) {
	if prior == nil {
		return nil, fmt.Errorf("delta classification requires a prior snapshot")
	}
	if g := prior.Grouping(); g != catalog.GroupPerObject {
		return nil, fmt.Errorf("prior snapshot was generated with %q grouping, delta requires per-object", g)
	}

	records := make([]Record, 0, len(current))
	seen := make(map[string]bool, len(current))

	for _, obj := range current {
		seen[obj.Identity().Key()] = true

		priorRec, existed := prior.Lookup(obj.Identity())
		switch {
		case !existed:
			records = append(records, Record{Object: obj, Class: New})
		case p.alwaysModified[obj.Type]:
			records = append(records, Record{Object: obj, Class: Modified})
		case obj.ModifiedAt.IsZero() || priorRec.ModifiedAt == nil:
			records = append(records, Record{Object: obj, Class: Modified})
		case obj.ModifiedAt.After(*priorRec.ModifiedAt):
			records = append(records, Record{Object: obj, Class: Modified})
		default:
			records = append(records, Record{
				Object:        obj,
				Class:         Unchanged,
				PriorArtifact: priorRec.Artifact,
			})
		}
	}

	var deleted []Record
	for _, rec := range prior.Records {
		if seen[rec.Identity().Key()] {
			continue
		}
		id := rec.Identity()
		deleted = append(deleted, Record{
			Object:        catalog.Object{Type: id.Type, Schema: id.Schema, Name: id.Name},
			Class:         Deleted,
			PriorArtifact: rec.Artifact,
		})
	}
	sort.Slice(deleted, func(i, j int) bool {
		return deleted[i].Object.Identity().Key() < deleted[j].Object.Identity().Key()
	})

	return append(records, deleted...), nil
}

// Summarize tallies a record set.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Class {
		case New:
			s.New++
		case Modified:
			s.Modified++
		case Unchanged:
			s.Unchanged++
		case Deleted:
			s.Deleted++
		}
	}
	return s
}
