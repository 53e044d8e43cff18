package catalog

import (
	"fmt"
	"sort"
)

// Bucket is one ordinal stage in the fixed dependency order. All objects in
// bucket N are assumed satisfiable once every bucket < N has been fully
// materialized. The table is shared verbatim by generation and replay; the
// zero-padded prefix is the on-disk contract that lets replay recover bucket
// order from a lexicographic directory sort alone.
type Bucket struct {
	Ordinal int
	Label   string
}

// ArtifactPrefix returns the directory prefix for this bucket's artifacts,
// e.g. "08_tables". Width 2 keeps lexicographic order equal to ordinal
// order for the full table.
func (b Bucket) ArtifactPrefix() string {
	return fmt.Sprintf("%02d_%s", b.Ordinal, b.Label)
}

// The fixed type -> bucket assignment. Ordinal gaps are reserved stages not
// used by the current type set.
var bucketByType = map[Type]int{
	TypeDatabaseConfig: 1,
	TypeSchema:         2,
	TypeStorageGroup:   3,
	TypeSequence:       4,
	TypePartition:      5,
	TypeTable:          8,
	TypeView:           9,
	TypeIndex:          10,
	TypeForeignKey:     11,
	TypeCheck:          12,
	TypeFunction:       13,
	TypeProcedure:      13,
	TypeTrigger:        14,
	TypeUser:           19,
	TypeRole:           19,
	TypeGrant:          19,
	TypeData:           20,
}

// Labels by ordinal. Types sharing an ordinal share one artifact directory.
var bucketLabels = map[int]string{
	1:  "dbconfig",
	2:  "schemas",
	3:  "storage",
	4:  "sequences",
	5:  "partitions",
	8:  "tables",
	9:  "views",
	10: "indexes",
	11: "fkeys",
	12: "checks",
	13: "routines",
	14: "triggers",
	19: "security",
	20: "data",
}

// typePriority is the fixed secondary priority list breaking ties between
// types that share a bucket ordinal (functions script before procedures that
// may call them; users before the roles that include them before the grants
// that reference both). Lower runs first.
var typePriority = map[Type]int{
	TypeDatabaseConfig: 1,
	TypeSchema:         1,
	TypeStorageGroup:   1,
	TypeSequence:       1,
	TypePartition:      1,
	TypeTable:          1,
	TypeView:           1,
	TypeIndex:          1,
	TypeForeignKey:     1,
	TypeCheck:          1,
	TypeFunction:       1,
	TypeProcedure:      2,
	TypeTrigger:        1,
	TypeUser:           1,
	TypeRole:           2,
	TypeGrant:          3,
	TypeData:           1,
}

// hardPrereqs records the static hard prerequisites of each type: the types
// whose objects must already exist before any object of the keyed type can
// be created. Used by the bucket-order consistency check in tests and by
// nothing at runtime (the bucket table already encodes the ordering).
var hardPrereqs = map[Type][]Type{
	TypeSchema:     {},
	TypeSequence:   {TypeSchema},
	TypePartition:  {TypeStorageGroup},
	TypeTable:      {TypeSchema},
	TypeView:       {TypeTable},
	TypeIndex:      {TypeTable},
	TypeForeignKey: {TypeTable, TypeIndex},
	TypeCheck:      {TypeTable},
	TypeFunction:   {TypeSchema},
	TypeProcedure:  {TypeFunction},
	TypeTrigger:    {TypeTable, TypeView},
	TypeRole:       {TypeUser},
	TypeGrant:      {TypeUser, TypeRole},
	TypeData:       {TypeTable},
}

// BucketFor returns the bucket an object type belongs to.
func BucketFor(t Type) (Bucket, error) {
	ord, ok := bucketByType[t]
	if !ok {
		return Bucket{}, fmt.Errorf("no bucket assignment for object type %q", string(t))
	}
	return Bucket{Ordinal: ord, Label: bucketLabels[ord]}, nil
}

// Priority returns the secondary priority of a type within its bucket.
func Priority(t Type) int {
	return typePriority[t]
}

// Prereqs returns the static hard prerequisites of a type.
func Prereqs(t Type) []Type {
	return hardPrereqs[t]
}

// Buckets returns the full bucket table in ordinal order.
func Buckets() []Bucket {
	out := make([]Bucket, 0, len(bucketLabels))
	for ord, label := range bucketLabels {
		out = append(out, Bucket{Ordinal: ord, Label: label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// TypesInBucket returns the types assigned to the given ordinal in secondary
// priority order.
func TypesInBucket(ordinal int) []Type {
	var out []Type
	for t, ord := range bucketByType {
		if ord == ordinal {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if typePriority[out[i]] != typePriority[out[j]] {
			return typePriority[out[i]] < typePriority[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// BucketByPrefix resolves an artifact directory name (e.g. "08_tables")
// back to its bucket. This is how replay rediscovers ordering from disk
// without re-deriving it from the table.
func BucketByPrefix(dir string) (Bucket, bool) {
	for ord, label := range bucketLabels {
		b := Bucket{Ordinal: ord, Label: label}
		if b.ArtifactPrefix() == dir {
			return b, true
		}
	}
	return Bucket{}, false
}

// RetryEligibleDefaults returns the default set of bucket ordinals whose
// units get multi-pass retry at replay time: the reference-prone
// programmable buckets (views, routines, triggers).
func RetryEligibleDefaults() []int {
	return []int{9, 13, 14}
}
