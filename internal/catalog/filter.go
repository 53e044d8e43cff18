package catalog

import (
	"context"
	"fmt"
	"log"
	"path"
	"time"
)

// Source is the slice of a provider session the enumerator needs: which
// types the engine supports and the raw per-type object listing. Raw
// listings may include system objects; filtering happens here.
type Source interface {
	SupportedTypes() []Type
	Enumerate(ctx context.Context, t Type) ([]Object, error)
}

// Filter holds the inclusion/exclusion rules for one enumeration pass.
type Filter struct {
	// Types is the type whitelist. Empty means all types the source
	// supports.
	Types []Type

	// ExcludeTypes removes types after the whitelist is applied.
	ExcludeTypes []Type

	// ExcludeSchemas removes whole schemas by exact name.
	ExcludeSchemas []string

	// ExcludeNames removes objects whose name (or "schema.name") matches
	// any of these wildcard patterns. Patterns use path.Match syntax:
	// '*', '?', and character classes.
	ExcludeNames []string

	// Since drops objects whose engine-reported ModifiedAt is known and
	// earlier than this instant. Zero disables the cutoff; objects with
	// unknown timestamps always pass.
	Since time.Time
}

// Validate checks that every exclusion pattern is well-formed and every
// whitelisted type is known.
func (f Filter) Validate() error {
	for _, t := range f.Types {
		if !t.IsKnown() {
			return fmt.Errorf("filter includes unknown type %q", string(t))
		}
	}
	for _, t := range f.ExcludeTypes {
		if !t.IsKnown() {
			return fmt.Errorf("filter excludes unknown type %q", string(t))
		}
	}
	for _, pat := range f.ExcludeNames {
		if _, err := path.Match(pat, "probe"); err != nil {
			return fmt.Errorf("bad name pattern %q: %w", pat, err)
		}
	}
	return nil
}

// typeIncluded reports whether the filter admits objects of type t.
func (f Filter) typeIncluded(t Type) bool {
	if len(f.Types) > 0 {
		found := false
		for _, want := range f.Types {
			if want == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, skip := range f.ExcludeTypes {
		if skip == t {
			return false
		}
	}
	return true
}

// Includes reports whether one object passes every rule. System objects
// never pass.
func (f Filter) Includes(o Object) bool {
	if o.System {
		return false
	}
	if !f.typeIncluded(o.Type) {
		return false
	}
	for _, schema := range f.ExcludeSchemas {
		if o.Schema == schema {
			return false
		}
	}
	for _, pat := range f.ExcludeNames {
		if ok, _ := path.Match(pat, o.Name); ok {
			return false
		}
		if o.Schema != "" {
			if ok, _ := path.Match(pat, o.Schema+"."+o.Name); ok {
				return false
			}
		}
	}
	if !f.Since.IsZero() && !o.ModifiedAt.IsZero() && o.ModifiedAt.Before(f.Since) {
		return false
	}
	return true
}

// Enumerator produces the stable, duplicate-free object set for one run.
type Enumerator struct {
	src    Source
	filter Filter
	logger *log.Logger
}

// NewEnumerator creates an enumerator over the given source. A nil logger
// falls back to log.Default().
func NewEnumerator(src Source, filter Filter, logger *log.Logger) *Enumerator {
	if logger == nil {
		logger = log.Default()
	}
	return &Enumerator{src: src, filter: filter, logger: logger}
}

// Enumerate lists every included object the source can report, filtered,
// de-duplicated by identity, and sorted into the canonical bucket order.
// A source error is fatal: there is no catalog to plan without one.
func (e *Enumerator) Enumerate(ctx context.Context) ([]Object, error) {
	if err := e.filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}

	supported := make(map[Type]bool)
	for _, t := range e.src.SupportedTypes() {
		supported[t] = true
	}

	seen := make(map[string]bool)
	var out []Object
	for _, t := range AllTypes() {
		if !e.filter.typeIncluded(t) {
			continue
		}
		if !supported[t] {
			if len(e.filter.Types) > 0 {
				// Only worth a line when the user asked for the type.
				e.logger.Printf("type %s not supported by this engine, skipping", t)
			}
			continue
		}

		objs, err := e.src.Enumerate(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate %s objects: %w", t, err)
		}
		for _, o := range objs {
			if !e.filter.Includes(o) {
				continue
			}
			if err := o.Validate(); err != nil {
				e.logger.Printf("skipping invalid %s object: %v", t, err)
				continue
			}
			key := o.Identity().Key()
			if seen[key] {
				e.logger.Printf("duplicate object %s from engine, keeping first", o.Identity())
				continue
			}
			seen[key] = true
			out = append(out, o)
		}
	}

	SortObjects(out)
	return out, nil
}
