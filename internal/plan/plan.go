// Package plan turns an enumerated catalog into ordered units of work and a
// dispatch-ready queue with collision-checked output targets.
package plan

import (
	"fmt"

	"github.com/cobaltdata/schemaport/internal/catalog"
)

// Grouping configures the grouping mode per object type: a default mode
// plus per-type overrides.
type Grouping struct {
	Default catalog.GroupingMode
	PerType map[catalog.Type]catalog.GroupingMode
}

// DefaultGrouping returns the stock configuration: one artifact per object.
func DefaultGrouping() Grouping {
	return Grouping{Default: catalog.GroupPerObject}
}

// ModeFor returns the grouping mode in effect for the given type.
func (g Grouping) ModeFor(t catalog.Type) catalog.GroupingMode {
	if m, ok := g.PerType[t]; ok {
		return m
	}
	return g.Default
}

// Validate checks the default mode and every override.
func (g Grouping) Validate() error {
	if err := g.Default.Validate(); err != nil {
		return fmt.Errorf("default grouping: %w", err)
	}
	for t, m := range g.PerType {
		if !t.IsKnown() {
			return fmt.Errorf("grouping override for unknown type %q", string(t))
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("grouping override for %s: %w", t, err)
		}
	}
	return nil
}

// PerObjectOnly reports whether every type in effect resolves to per-object
// grouping. Delta generation requires this.
func (g Grouping) PerObjectOnly() bool {
	if g.Default != catalog.GroupPerObject {
		return false
	}
	for _, m := range g.PerType {
		if m != catalog.GroupPerObject {
			return false
		}
	}
	return true
}

// Unit is a planned grouping of catalog objects destined for one output
// artifact. A unit belongs to exactly one bucket; its objects are in
// canonical (priority, schema, name) order.
type Unit struct {
	Bucket  catalog.Bucket
	Mode    catalog.GroupingMode
	Objects []catalog.Object

	// Target is the artifact path relative to the output directory, filled
	// in by BuildQueue.
	Target string

	// Handler tags units that need special treatment downstream; data-load
	// units carry "bulkload" so generation can route them through row
	// export options.
	Handler string
}

// Schema returns the unit's schema for per-schema units, or the first
// member's schema otherwise.
func (u Unit) Schema() string {
	if len(u.Objects) == 0 {
		return ""
	}
	return u.Objects[0].Schema
}

// Type returns the member type for per-object and per-type units. Per-schema
// units can span the types of their bucket; callers resolve options per
// member instead.
func (u Unit) Type() catalog.Type {
	if len(u.Objects) == 0 {
		return ""
	}
	return u.Objects[0].Type
}

// HandlerBulkLoad tags data units for the bulk-load path.
const HandlerBulkLoad = "bulkload"

// Planner assigns objects to buckets and partitions bucket contents into
// units per the configured grouping.
type Planner struct {
	grouping Grouping
}

// NewPlanner creates a planner with the given grouping configuration.
func NewPlanner(grouping Grouping) *Planner {
	return &Planner{grouping: grouping}
}

// Plan partitions the objects into units. Objects are first brought into
// canonical order, so unit creation order, and therefore queue order, is
// deterministic run-to-run for an unchanged catalog.
func (p *Planner) Plan(objects []catalog.Object) ([]Unit, error) {
	if err := p.grouping.Validate(); err != nil {
		return nil, err
	}

	sorted := append([]catalog.Object(nil), objects...)
	catalog.SortObjects(sorted)

	var units []Unit
	index := make(map[string]int) // unit key -> position in units

	for _, obj := range sorted {
		bucket, err := catalog.BucketFor(obj.Type)
		if err != nil {
			return nil, fmt.Errorf("cannot place %s: %w", obj.Identity(), err)
		}
		mode := p.grouping.ModeFor(obj.Type)

		var key string
		switch mode {
		case catalog.GroupPerObject:
			key = fmt.Sprintf("o|%d|%s", bucket.Ordinal, obj.Identity().Key())
		case catalog.GroupPerSchema:
			key = fmt.Sprintf("s|%d|%s", bucket.Ordinal, obj.Schema)
		case catalog.GroupPerType:
			key = fmt.Sprintf("t|%d|%s", bucket.Ordinal, obj.Type)
		default:
			return nil, fmt.Errorf("unknown grouping mode %q for type %s", mode, obj.Type)
		}

		pos, ok := index[key]
		if !ok {
			u := Unit{Bucket: bucket, Mode: mode}
			if obj.Type == catalog.TypeData {
				u.Handler = HandlerBulkLoad
			}
			units = append(units, u)
			pos = len(units) - 1
			index[key] = pos
		}
		units[pos].Objects = append(units[pos].Objects, obj)
	}

	return units, nil
}
