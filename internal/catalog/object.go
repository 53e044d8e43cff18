// Package catalog defines the object model shared by generation and replay:
// object types, identities, the fixed dependency-bucket table, grouping
// modes, and the enumeration filter rules.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type identifies a kind of catalog object. The set is engine-agnostic;
// each provider declares which subset it can enumerate and script.
type Type string

const (
	TypeDatabaseConfig Type = "dbconfig"  // database-level configuration
	TypeSchema         Type = "schema"    // namespaces / attached databases
	TypeStorageGroup   Type = "storage"   // physical storage groups
	TypeSequence       Type = "sequence"  // sequence generators
	TypePartition      Type = "partition" // partition schemes
	TypeTable          Type = "table"     // tables with their primary keys
	TypeView           Type = "view"
	TypeIndex          Type = "index"
	TypeForeignKey     Type = "fkey"
	TypeCheck          Type = "check"
	TypeFunction       Type = "function"
	TypeProcedure      Type = "procedure"
	TypeTrigger        Type = "trigger"
	TypeUser           Type = "user"
	TypeRole           Type = "role"
	TypeGrant          Type = "grant"
	TypeData           Type = "data" // bulk table data
)

// String returns the string representation of the object type.
func (t Type) String() string {
	return string(t)
}

// AllTypes returns every known object type in bucket order.
func AllTypes() []Type {
	types := make([]Type, 0, len(bucketByType))
	for t := range bucketByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		bi, bj := bucketByType[types[i]], bucketByType[types[j]]
		if bi != bj {
			return bi < bj
		}
		return typePriority[types[i]] < typePriority[types[j]]
	})
	return types
}

// IsKnown reports whether t appears in the fixed bucket table.
func (t Type) IsKnown() bool {
	_, ok := bucketByType[t]
	return ok
}

// GroupingMode controls how many catalog objects share one output artifact.
// It affects unit shape only, never bucket assignment.
type GroupingMode string

const (
	// GroupPerObject produces one artifact per object. Required whenever
	// delta generation is active.
	GroupPerObject GroupingMode = "object"

	// GroupPerSchema produces one artifact per (bucket, schema) pair.
	GroupPerSchema GroupingMode = "schema"

	// GroupPerType produces one artifact per (bucket, type) pair.
	GroupPerType GroupingMode = "type"
)

// Validate checks that the grouping mode is one of the three known values.
func (m GroupingMode) Validate() error {
	switch m {
	case GroupPerObject, GroupPerSchema, GroupPerType:
		return nil
	}
	return fmt.Errorf("unknown grouping mode %q (want object, schema, or type)", string(m))
}

// Identity is the stable identity of a catalog object: (type, schema, name).
type Identity struct {
	Type   Type   `json:"type"`
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Key returns the canonical map key for this identity.
func (id Identity) Key() string {
	return string(id.Type) + ":" + id.Schema + "." + id.Name
}

// String returns a human-readable form, e.g. "table main.users".
func (id Identity) String() string {
	if id.Schema == "" {
		return fmt.Sprintf("%s %s", id.Type, id.Name)
	}
	return fmt.Sprintf("%s %s.%s", id.Type, id.Schema, id.Name)
}

// Object is one catalog object as reported by a provider during an
// enumeration pass. Objects are never mutated after enumeration.
type Object struct {
	Type   Type   `json:"type"`
	Schema string `json:"schema"`
	Name   string `json:"name"`

	// ModifiedAt is the engine-reported modification instant. Zero when the
	// engine exposes no reliable per-object timestamp; delta classification
	// treats unknown timestamps as Modified.
	ModifiedAt time.Time `json:"modified_at,omitempty"`

	// System marks engine-internal objects (e.g. sqlite_* tables,
	// auto-generated primary key indexes). System objects are excluded
	// from enumeration output.
	System bool `json:"-"`
}

// Identity returns the object's (type, schema, name) identity.
func (o Object) Identity() Identity {
	return Identity{Type: o.Type, Schema: o.Schema, Name: o.Name}
}

// Validate checks that the object carries a usable identity.
func (o Object) Validate() error {
	if o.Type == "" {
		return fmt.Errorf("object type is required")
	}
	if !o.Type.IsKnown() {
		return fmt.Errorf("unknown object type %q", string(o.Type))
	}
	if o.Name == "" {
		return fmt.Errorf("object name is required")
	}
	if strings.ContainsAny(o.Name, "\x00") || strings.ContainsAny(o.Schema, "\x00") {
		return fmt.Errorf("object identity contains NUL byte")
	}
	return nil
}

// SortObjects orders objects deterministically: bucket ordinal, then the
// fixed secondary type priority, then (schema, name) ascending. This is the
// ordering every planning pass relies on for run-to-run stable output.
func SortObjects(objs []Object) {
	sort.SliceStable(objs, func(i, j int) bool {
		a, b := objs[i], objs[j]
		ba, bb := bucketByType[a.Type], bucketByType[b.Type]
		if ba != bb {
			return ba < bb
		}
		if pa, pb := typePriority[a.Type], typePriority[b.Type]; pa != pb {
			return pa < pb
		}
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		return a.Name < b.Name
	})
}
