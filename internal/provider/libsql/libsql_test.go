package libsql

import (
	"strings"
	"testing"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/provider"
	"github.com/cobaltdata/schemaport/internal/provider/sqlite"
)

// Connection tests need a reachable Turso database, so coverage here stays
// on URL validation and registration wiring.

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		want    string
		wantErr bool
	}{
		{"libsql scheme", "libsql://mydb-org.turso.io", "libsql://mydb-org.turso.io", false},
		{"wss scheme", "wss://mydb-org.turso.io", "wss://mydb-org.turso.io", false},
		{"https scheme", "https://mydb-org.turso.io", "https://mydb-org.turso.io", false},
		{"surrounding whitespace", " libsql://mydb-org.turso.io ", "libsql://mydb-org.turso.io", false},
		{"plain path", "app.db", "", true},
		{"empty host", "libsql://", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeURL(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Errorf("normalizeURL(%q) expected error, got %q", tt.dsn, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeURL(%q) failed: %v", tt.dsn, err)
			}
			if got != tt.want {
				t.Errorf("normalizeURL(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestNew_RejectsNonURL(t *testing.T) {
	_, err := New("plain.db", provider.Options{})
	if err == nil {
		t.Fatal("Expected error for non-URL DSN")
	}
	if !strings.Contains(err.Error(), "not a libsql URL") {
		t.Errorf("Expected URL validation error, got: %v", err)
	}
}

func TestRegistersEngine(t *testing.T) {
	if !provider.IsRegistered(provider.EngineLibSQL) {
		t.Error("Expected libsql engine to self-register")
	}
}

func TestSupportedTypesMatchSqliteDialect(t *testing.T) {
	types := sqlite.SupportedTypes()
	if len(types) == 0 {
		t.Fatal("Expected non-empty dialect type set")
	}

	found := false
	for _, typ := range types {
		if typ == catalog.TypeTable {
			found = true
		}
	}
	if !found {
		t.Error("Expected table type in dialect set")
	}
}
