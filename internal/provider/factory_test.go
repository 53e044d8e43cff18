package provider

import (
	"errors"
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want Engine
	}{
		{"libsql url", "libsql://mydb-org.turso.io", EngineLibSQL},
		{"wss url", "wss://mydb-org.turso.io", EngineLibSQL},
		{"https url", "https://mydb-org.turso.io", EngineLibSQL},
		{"uppercase scheme", "LIBSQL://mydb-org.turso.io", EngineLibSQL},
		{"surrounding whitespace", "  libsql://mydb-org.turso.io  ", EngineLibSQL},
		{"relative path", "app.db", EngineSQLite},
		{"absolute path", "/var/lib/schemaport/app.db", EngineSQLite},
		{"file uri", "file:app.db?cache=shared", EngineSQLite},
		{"memory", ":memory:", EngineSQLite},
		{"empty", "", EngineSQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.dsn); got != tt.want {
				t.Errorf("Detect(%q) = %s, want %s", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestOpenEngineWithMockRegistration(t *testing.T) {
	engine := uniqueTestEngine("open-test")
	Register(engine, newMockConstructor(engine))

	p, err := OpenEngine(engine, "test.db", Options{})
	if err != nil {
		t.Fatalf("OpenEngine failed: %v", err)
	}
	defer func() { _ = p.Close() }()

	if p.Engine() != engine {
		t.Errorf("Expected engine '%s', got '%s'", engine, p.Engine())
	}

	mock, ok := p.(*mockProvider)
	if !ok {
		t.Fatalf("Expected *mockProvider, got %T", p)
	}
	if mock.dsn != "test.db" {
		t.Errorf("Expected DSN 'test.db', got '%s'", mock.dsn)
	}
}

func TestOpenEngineUnregistered(t *testing.T) {
	engine := uniqueTestEngine("never-registered")

	p, err := OpenEngine(engine, "test.db", Options{})
	if err == nil {
		t.Fatal("Expected error for unregistered engine")
	}
	if p != nil {
		t.Error("Expected nil provider on error")
	}

	// Error message should name the engine and the available ones
	if !strings.Contains(err.Error(), string(engine)) {
		t.Errorf("Expected error to mention %s, got: %v", engine, err)
	}
	if !strings.Contains(err.Error(), "available") {
		t.Errorf("Expected error to mention available engines, got: %v", err)
	}
}

func TestOpenEngineConstructorFailure(t *testing.T) {
	engine := uniqueTestEngine("broken")
	wantErr := errors.New("connection refused")
	Register(engine, func(dsn string, opts Options) (Provider, error) {
		return nil, wantErr
	})

	_, err := OpenEngine(engine, "test.db", Options{})
	if err == nil {
		t.Fatal("Expected error from failing constructor")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected wrapped constructor error, got: %v", err)
	}
}

func TestOpenRoutesThroughDetection(t *testing.T) {
	// Neither real engine registers itself in this package, so Open on a
	// plain path must fail with the sqlite engine named.
	_, err := Open("plain.db", Options{})
	if err == nil {
		t.Fatal("Expected error when sqlite engine is not registered")
	}
	if !strings.Contains(err.Error(), string(EngineSQLite)) {
		t.Errorf("Expected error to mention %s, got: %v", EngineSQLite, err)
	}
}
