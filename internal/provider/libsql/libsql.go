// Package libsql implements the libsql engine for Turso-hosted databases.
//
// Two modes, selected by Options.LocalPath:
//   - Remote: every query goes over the wire to the primary. The DSN is a
//     libsql:// (or wss:// / https://) URL; Options.AuthToken authenticates.
//   - Embedded replica: reads run against a local replica file that syncs
//     from the primary, writes are forwarded. This is the mode to use for
//     enumeration-heavy generate runs.
//
// The dialect is sqlite's, so sessions are shared with the sqlite engine;
// only connection establishment differs.
package libsql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/provider"
	"github.com/cobaltdata/schemaport/internal/provider/sqlite"
	golibsql "github.com/tursodatabase/go-libsql"
)

func init() {
	provider.Register(provider.EngineLibSQL, func(dsn string, opts provider.Options) (provider.Provider, error) {
		return New(dsn, opts)
	})
}

// Provider is an opened libsql database, remote or embedded replica.
type Provider struct {
	conn      *sql.DB
	url       string
	connector *golibsql.Connector
	types     []catalog.Type
}

// New opens a libsql provider for the given URL.
//
// With Options.LocalPath set, an embedded replica is created (or reused) at
// that path and synced from the primary before first use. Otherwise the
// connection is remote.
func New(dsn string, opts provider.Options) (*Provider, error) {
	primary, err := normalizeURL(dsn)
	if err != nil {
		return nil, err
	}

	p := &Provider{url: primary, types: sqlite.SupportedTypes()}

	if opts.LocalPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LocalPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create replica directory: %w", err)
		}
		var copts []golibsql.Option
		if opts.AuthToken != "" {
			copts = append(copts, golibsql.WithAuthToken(opts.AuthToken))
		}
		connector, err := golibsql.NewEmbeddedReplicaConnector(opts.LocalPath, primary, copts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedded replica: %w", err)
		}
		p.connector = connector
		p.conn = sql.OpenDB(connector)
	} else {
		connURL := primary
		if opts.AuthToken != "" {
			sep := "?"
			if strings.Contains(connURL, "?") {
				sep = "&"
			}
			connURL += sep + "authToken=" + url.QueryEscape(opts.AuthToken)
		}
		conn, err := sql.Open("libsql", connURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open libsql connection: %w", err)
		}
		p.conn = conn
	}

	if err := p.conn.Ping(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", primary, err)
	}

	p.conn.SetMaxOpenConns(40)
	p.conn.SetMaxIdleConns(5)
	p.conn.SetConnMaxLifetime(5 * time.Minute)

	return p, nil
}

// normalizeURL validates the primary URL and strips whitespace. Plain
// hostnames are rejected so misrouted sqlite paths fail loudly.
func normalizeURL(dsn string) (string, error) {
	trimmed := strings.TrimSpace(dsn)
	lower := strings.ToLower(trimmed)
	for _, scheme := range []string{"libsql://", "wss://", "https://", "ws://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			if len(trimmed) == len(scheme) {
				return "", fmt.Errorf("libsql URL %q has no host", dsn)
			}
			return trimmed, nil
		}
	}
	return "", fmt.Errorf("not a libsql URL: %q (want libsql://, wss:// or https://)", dsn)
}

// Engine returns the libsql engine identifier.
func (p *Provider) Engine() provider.Engine {
	return provider.EngineLibSQL
}

// Version returns the server's SQLite compatibility version.
func (p *Provider) Version(ctx context.Context) (string, error) {
	var v string
	if err := p.conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", fmt.Errorf("failed to read libsql version: %w", err)
	}
	return v, nil
}

// SupportedTypes matches the sqlite dialect.
func (p *Provider) SupportedTypes() []catalog.Type {
	out := make([]catalog.Type, len(p.types))
	copy(out, p.types)
	return out
}

// Sync forces one replica sync cycle. Remote connections are always
// current and return immediately.
func (p *Provider) Sync() error {
	if p.connector == nil {
		return nil
	}
	if _, err := p.connector.Sync(); err != nil {
		return fmt.Errorf("failed to sync replica: %w", err)
	}
	return nil
}

// NewSession pins a dedicated connection and hands it to the shared sqlite
// dialect session.
func (p *Provider) NewSession(ctx context.Context) (provider.Session, error) {
	conn, err := p.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to pin connection: %v", provider.ErrSetup, err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: PRAGMA foreign_keys=ON: %v", provider.ErrSetup, err)
	}
	return sqlite.WrapConn(conn), nil
}

// Close syncs the replica a final time and releases the pool.
func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}

	if p.connector != nil {
		if _, err := p.connector.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed final replica sync: %v\n", err)
		}
	}

	err := p.conn.Close()
	p.conn = nil
	if p.connector != nil {
		if cerr := p.connector.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.connector = nil
	}
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
