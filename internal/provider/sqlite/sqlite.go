// Package sqlite implements the sqlite engine on top of the ncruces WASM
// driver (no cgo).
//
// The engine serves plain database files and file: URIs. It reads the
// catalog out of sqlite_master and the pragma surface, scripts DDL from the
// stored definitions, and generates batched INSERTs for table data.
//
// Architecture:
//   - Driver: ncruces/go-sqlite3, WAL mode, busy_timeout 5s
//   - Sessions: one dedicated *sql.Conn per worker. The foreign_keys pragma
//     is connection-scoped, so the constraint lifecycle needs a pinned
//     connection rather than a pooled one.
//   - Type handlers: enumeration and scripting are table-driven; the handler
//     map is built once at construction.
//   - Compile cache: wazero compilation cache under the user cache dir,
//     shared by every connection in the process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/provider"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

func init() {
	provider.Register(provider.EngineSQLite, func(dsn string, opts provider.Options) (provider.Provider, error) {
		return New(dsn, opts)
	})
}

// mainSchema is the only writable namespace in a single-file database.
const mainSchema = "main"

var cacheOnce sync.Once

// initCompileCache persists wazero's compiled SQLite module across runs so
// only the first process start pays the WASM compilation cost. Failures
// fall back to in-memory compilation.
func initCompileCache() {
	cacheOnce.Do(func() {
		dir, err := os.UserCacheDir()
		if err != nil {
			return
		}
		cache, err := wazero.NewCompilationCacheWithDir(filepath.Join(dir, "schemaport", "wazero"))
		if err != nil {
			return
		}
		sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	})
}

// Provider is an opened sqlite database file.
type Provider struct {
	conn     *sql.DB
	path     string
	handlers map[catalog.Type]typeHandler
	types    []catalog.Type
}

// New opens a sqlite provider for the given DSN.
//
// Plain paths and file: URIs are accepted; the database file is created
// along with its parent directory when absent. Options are accepted for
// interface symmetry and ignored: local files need no auth token or
// replica path.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func New(dsn string, opts provider.Options) (*Provider, error) {
	initCompileCache()

	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	connStr := dsn
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		connStr = fmt.Sprintf("file:%s", dsn)
	}
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One pinned connection per worker plus pool headroom for enumeration.
	conn.SetMaxOpenConns(40)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	handlers := buildHandlers()
	p := &Provider{
		conn:     conn,
		path:     path,
		handlers: handlers,
		types:    supportedTypes(handlers),
	}

	// Enable WAL mode for concurrent reads
	if _, err := p.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := p.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return p, nil
}

// Engine returns the sqlite engine identifier.
func (p *Provider) Engine() provider.Engine {
	return provider.EngineSQLite
}

// Version returns the linked SQLite library version.
func (p *Provider) Version(ctx context.Context) (string, error) {
	var v string
	if err := p.conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", fmt.Errorf("failed to read sqlite version: %w", err)
	}
	return v, nil
}

// SupportedTypes returns the object types sqlite can enumerate and script,
// in bucket order.
func (p *Provider) SupportedTypes() []catalog.Type {
	out := make([]catalog.Type, len(p.types))
	copy(out, p.types)
	return out
}

// NewSession pins a dedicated connection and applies its session pragmas.
func (p *Provider) NewSession(ctx context.Context) (provider.Session, error) {
	conn, err := p.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to pin connection: %v", provider.ErrSetup, err)
	}

	// busy_timeout and foreign_keys are per-connection state
	for _, pragma := range []string{"PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s: %v", provider.ErrSetup, pragma, err)
		}
	}

	return &Session{conn: conn, handlers: p.handlers, types: p.types}, nil
}

// Close closes the connection pool.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := p.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	p.conn = nil
	return nil
}

func supportedTypes(handlers map[catalog.Type]typeHandler) []catalog.Type {
	var types []catalog.Type
	for _, t := range catalog.AllTypes() {
		if _, ok := handlers[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// SupportedTypes returns the types the sqlite dialect can serve, without
// opening a database.
func SupportedTypes() []catalog.Type {
	return supportedTypes(buildHandlers())
}

// WrapConn adapts an externally pinned connection to the sqlite dialect
// session. The libsql engine shares the dialect over its own driver.
func WrapConn(conn *sql.Conn) provider.Session {
	handlers := buildHandlers()
	return &Session{conn: conn, handlers: handlers, types: supportedTypes(handlers)}
}

// Session is one worker's pinned connection.
type Session struct {
	conn     *sql.Conn
	handlers map[catalog.Type]typeHandler
	types    []catalog.Type
}

// SupportedTypes mirrors the provider's capability set.
func (s *Session) SupportedTypes() []catalog.Type {
	out := make([]catalog.Type, len(s.types))
	copy(out, s.types)
	return out
}

// Enumerate lists all objects of one type, system objects included.
func (s *Session) Enumerate(ctx context.Context, t catalog.Type) ([]catalog.Object, error) {
	h, ok := s.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s objects on sqlite", provider.ErrNotSupported, t)
	}
	return h.enumerate(ctx, s.conn)
}

// Lookup resolves one identity against the live catalog.
func (s *Session) Lookup(ctx context.Context, id catalog.Identity) (catalog.Object, error) {
	objs, err := s.Enumerate(ctx, id.Type)
	if err != nil {
		return catalog.Object{}, err
	}
	for _, obj := range objs {
		if obj.Schema == id.Schema && obj.Name == id.Name {
			return obj, nil
		}
	}
	return catalog.Object{}, fmt.Errorf("%w: %s", provider.ErrObjectNotFound, id)
}

// Script produces the SQL artifact body for the given objects. All objects
// must share one type.
func (s *Session) Script(ctx context.Context, objs []catalog.Object, opts provider.ScriptOptions) ([]byte, error) {
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: no objects to script", provider.ErrScriptGeneration)
	}
	t := objs[0].Type
	for _, obj := range objs[1:] {
		if obj.Type != t {
			return nil, fmt.Errorf("%w: mixed object types %s and %s", provider.ErrScriptGeneration, t, obj.Type)
		}
	}

	h, ok := s.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s objects on sqlite", provider.ErrNotSupported, t)
	}

	body, err := h.script(ctx, s.conn, objs, opts)
	if err != nil {
		if errors.Is(err, provider.ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrScriptGeneration, err)
	}

	var b strings.Builder
	if opts.Header {
		fmt.Fprintf(&b, "-- schemaport %s artifact\n", t)
		for _, obj := range objs {
			fmt.Fprintf(&b, "-- %s\n", obj.Identity())
		}
		b.WriteString("\n")
	}
	b.WriteString(body)
	return []byte(b.String()), nil
}

// Execute runs an artifact body on this session's connection. Scripts that
// contain only comments are a no-op.
func (s *Session) Execute(ctx context.Context, script []byte) error {
	if !hasStatements(script) {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, string(script)); err != nil {
		return wrapExecError(err)
	}
	return nil
}

// SuspendConstraints disables foreign key enforcement on this connection.
func (s *Session) SuspendConstraints(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("failed to suspend foreign keys: %w", err)
	}
	return nil
}

// RestoreConstraints re-enables foreign key enforcement. Rows loaded while
// suspended are not rechecked here; use CheckConstraints.
func (s *Session) RestoreConstraints(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to restore foreign keys: %w", err)
	}
	return nil
}

// CheckConstraints runs foreign_key_check across the database and reports
// one violation per broken constraint. sqlite foreign keys are unnamed, so
// the reporting name is formatted from the child and parent tables.
func (s *Session) CheckConstraints(ctx context.Context) ([]provider.Violation, error) {
	rows, err := s.conn.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer rows.Close()

	type fkey struct {
		table  string
		parent string
		id     int64
	}
	counts := make(map[fkey]int)
	for rows.Next() {
		var k fkey
		var rowid sql.NullInt64
		if err := rows.Scan(&k.table, &rowid, &k.parent, &k.id); err != nil {
			return nil, fmt.Errorf("failed to scan foreign_key_check row: %w", err)
		}
		counts[k]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign_key_check: %w", err)
	}

	keys := make([]fkey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].table != keys[j].table {
			return keys[i].table < keys[j].table
		}
		return keys[i].id < keys[j].id
	})

	violations := make([]provider.Violation, 0, len(keys))
	for _, k := range keys {
		violations = append(violations, provider.Violation{
			Constraint: fmt.Sprintf("%s->%s (fk %d)", k.table, k.parent, k.id),
			Table:      k.table,
			Parent:     k.parent,
			Rows:       counts[k],
		})
	}
	return violations, nil
}

// Close returns the pinned connection to the pool.
func (s *Session) Close() error {
	return s.conn.Close()
}

// wrapExecError classifies execution failures. Missing referenced objects
// become retryable; everything else is terminal for the statement.
func wrapExecError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such ") {
		return fmt.Errorf("%w: %v", provider.ErrDependencyUnresolved, err)
	}
	if strings.Contains(msg, "foreign key") {
		return fmt.Errorf("%w: %v", provider.ErrConstraintViolation, err)
	}
	return fmt.Errorf("failed to execute script: %w", err)
}

// hasStatements reports whether the script contains anything beyond line
// comments and whitespace.
func hasStatements(script []byte) bool {
	for _, line := range strings.Split(string(script), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		return true
	}
	return false
}
