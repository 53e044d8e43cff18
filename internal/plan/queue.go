package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cobaltdata/schemaport/internal/catalog"
)

// ErrTargetCollision is returned when two units resolve to the same output
// target. The planner and the target scheme together must make that
// impossible, so queue building aborts immediately rather than letting one
// artifact silently overwrite another.
var ErrTargetCollision = errors.New("output target collision")

// WorkItem is a dispatch-ready unit with a unique id. Each item is consumed
// exactly once by one worker.
type WorkItem struct {
	ID   int
	Unit Unit
}

// BuildQueue computes the canonical output target for every unit, asserts
// global target uniqueness, and assigns sequential item ids starting at 1.
func BuildQueue(units []Unit) ([]WorkItem, error) {
	items := make([]WorkItem, 0, len(units))
	seen := make(map[string]int) // target -> item id
	schemaOrdinals := make(map[string]int)

	for i, u := range units {
		if len(u.Objects) == 0 {
			return nil, fmt.Errorf("unit %d in bucket %s has no objects", i, u.Bucket.ArtifactPrefix())
		}

		target, err := targetFor(u, schemaOrdinals)
		if err != nil {
			return nil, err
		}

		id := len(items) + 1
		if prev, dup := seen[target]; dup {
			return nil, fmt.Errorf("%w: units %d and %d both write %q", ErrTargetCollision, prev, id, target)
		}
		seen[target] = id

		u.Target = target
		items = append(items, WorkItem{ID: id, Unit: u})
	}

	return items, nil
}

// targetFor derives the artifact path for one unit, relative to the output
// directory and always under the unit's bucket prefix.
//
// per-object:  NN_label/<type>.<schema>.<name>.sql
// per-schema:  NN_label/<schema ordinal %03d>_<schema>.sql
// per-type:    NN_label/<priority %02d>_<type>.sql
//
// Schema ordinals are assigned in first-seen order per (bucket, schema), so
// per-schema file names sort in planned order.
func targetFor(u Unit, schemaOrdinals map[string]int) (string, error) {
	prefix := u.Bucket.ArtifactPrefix()
	first := u.Objects[0]

	switch u.Mode {
	case catalog.GroupPerObject:
		if first.Schema == "" {
			return fmt.Sprintf("%s/%s.%s.sql", prefix, first.Type, escapeIdent(first.Name)), nil
		}
		return fmt.Sprintf("%s/%s.%s.%s.sql",
			prefix, first.Type, escapeIdent(first.Schema), escapeIdent(first.Name)), nil

	case catalog.GroupPerSchema:
		key := fmt.Sprintf("%d|%s", u.Bucket.Ordinal, first.Schema)
		ord, ok := schemaOrdinals[key]
		if !ok {
			ord = len(schemaOrdinals) + 1
			schemaOrdinals[key] = ord
		}
		return fmt.Sprintf("%s/%03d_%s.sql", prefix, ord, escapeIdent(first.Schema)), nil

	case catalog.GroupPerType:
		return fmt.Sprintf("%s/%02d_%s.sql", prefix, catalog.Priority(first.Type), first.Type), nil
	}

	return "", fmt.Errorf("unit has unknown grouping mode %q", u.Mode)
}

// escapeIdent makes an identifier safe for use as a path segment. Anything
// outside [A-Za-z0-9_-] is percent-encoded, which also keeps distinct
// identities from aliasing to one target (a literal '.' inside a name can
// never collide with the separator dots).
func escapeIdent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
