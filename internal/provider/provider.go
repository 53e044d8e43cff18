// Package provider defines the catalog/scripting boundary: the component
// that knows how to enumerate, look up, and materialize or apply object
// definitions against a real store.
//
// # Architecture
//
// A Provider represents one opened store and hands out Sessions, each backed
// by its own dedicated connection. Workers never share a session: catalog
// connections are not safe to share across concurrent execution contexts,
// so the dispatcher gives every worker a session of its own.
//
// Engines register a constructor in their init() function; the factory
// resolves a DSN to an engine and builds the provider through the registry.
//
// # Usage
//
//	p, err := provider.Open("app.db", provider.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	sess, err := p.NewSession(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close()
//
//	tables, err := sess.Enumerate(ctx, catalog.TypeTable)
//
// # Implementations
//
//   - internal/provider/sqlite: local SQLite files (ncruces WASM driver)
//   - internal/provider/libsql: libSQL/Turso remotes and embedded replicas
package provider

import (
	"context"

	"github.com/cobaltdata/schemaport/internal/catalog"
)

// Engine identifies a provider implementation.
type Engine string

const (
	// EngineSQLite serves local SQLite database files.
	EngineSQLite Engine = "sqlite"

	// EngineLibSQL serves libSQL/Turso remotes and embedded replicas.
	EngineLibSQL Engine = "libsql"
)

// String returns the string representation of the engine.
func (e Engine) String() string {
	return string(e)
}

// Provider is one opened store. Implementations are safe for concurrent use;
// the sessions they hand out are not, and belong to exactly one caller.
type Provider interface {
	// ===================
	// Identity
	// ===================

	// Engine returns which implementation this is.
	Engine() Engine

	// Version returns the engine's version string.
	Version(ctx context.Context) (string, error)

	// ===================
	// Capability
	// ===================

	// SupportedTypes returns the object types this engine can enumerate
	// and script, in bucket order.
	SupportedTypes() []catalog.Type

	// ===================
	// Sessions
	// ===================

	// NewSession opens a dedicated connection for one worker. Callers own
	// the session until Close.
	NewSession(ctx context.Context) (Session, error)

	// Close releases the provider and its connection pool. Outstanding
	// sessions must be closed first.
	Close() error
}

// Session is one worker's private connection to the store: enumeration,
// identity lookup, script generation, and script execution, plus the
// constraint lifecycle used around bulk data load.
type Session interface {
	// ===================
	// Catalog
	// ===================

	// SupportedTypes mirrors the provider's capability set.
	SupportedTypes() []catalog.Type

	// Enumerate lists all objects of one type, including system objects
	// (flagged, so the enumerator can drop them).
	Enumerate(ctx context.Context, t catalog.Type) ([]catalog.Object, error)

	// Lookup resolves one identity. Returns ErrObjectNotFound when the
	// object no longer exists.
	Lookup(ctx context.Context, id catalog.Identity) (catalog.Object, error)

	// ===================
	// Scripting
	// ===================

	// Script produces the SQL artifact body for the given objects. All
	// objects share one type; per-type options tune the output. Failures
	// wrap ErrScriptGeneration, or ErrObjectNotFound when an object
	// vanished after enumeration.
	Script(ctx context.Context, objs []catalog.Object, opts ScriptOptions) ([]byte, error)

	// Execute runs an artifact body against the store. A failure caused by
	// a referenced object that does not exist yet wraps
	// ErrDependencyUnresolved so the apply engine can retry it on a later
	// pass.
	Execute(ctx context.Context, script []byte) error

	// ===================
	// Constraint lifecycle
	// ===================
	// Referential-integrity enforcement is suspended on this session's own
	// connection for the duration of bulk data load, then restored and
	// validated. The pragma-level state is per-connection, which is why
	// these live on Session rather than Provider.

	// SuspendConstraints disables referential-integrity enforcement.
	SuspendConstraints(ctx context.Context) error

	// RestoreConstraints re-enables referential-integrity enforcement.
	// Restoring does not retroactively check rows loaded while suspended;
	// callers follow with CheckConstraints.
	RestoreConstraints(ctx context.Context) error

	// CheckConstraints validates every enabled constraint and returns one
	// entry per violated constraint, empty when the store is consistent.
	CheckConstraints(ctx context.Context) ([]Violation, error)

	// ===================
	// Lifecycle
	// ===================

	// Close returns the session's connection.
	Close() error
}

// ScriptOptions tunes script generation for one unit.
type ScriptOptions struct {
	// IfNotExists guards DDL with IF NOT EXISTS where the dialect allows.
	IfNotExists bool

	// DropFirst emits a guarded DROP before each CREATE.
	DropFirst bool

	// BatchRows caps rows per INSERT statement for data scripting.
	// Zero means the engine default.
	BatchRows int

	// Header, when false, suppresses the generated comment header.
	Header bool
}

// DefaultScriptOptions returns the options used when no per-type
// configuration applies.
func DefaultScriptOptions() ScriptOptions {
	return ScriptOptions{Header: true}
}

// Violation identifies one violated referential-integrity constraint.
type Violation struct {
	// Constraint is the reporting name: the constraint's own name where
	// the engine has one, otherwise a formatted child->parent identity.
	Constraint string

	// Table is the child table holding the violating row(s).
	Table string

	// Parent is the referenced table.
	Parent string

	// Rows counts violating rows for this constraint.
	Rows int
}

// Options configures provider construction across engines.
type Options struct {
	// AuthToken authenticates against remote engines. Ignored by local
	// ones.
	AuthToken string

	// LocalPath, for engines that support embedded replicas, selects the
	// local replica file. Empty means connect remotely.
	LocalPath string
}
