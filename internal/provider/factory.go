package provider

import (
	"fmt"
	"strings"
)

// Detect maps a DSN to the engine that serves it:
//
//   - libsql://, wss://, https:// means libsql (remote/Turso)
//   - everything else (plain paths, file: URIs, :memory:) means sqlite
//
// Options.LocalPath does not change detection; an embedded replica is still
// the libsql engine.
func Detect(dsn string) Engine {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "libsql://"),
		strings.HasPrefix(lower, "wss://"),
		strings.HasPrefix(lower, "https://"):
		return EngineLibSQL
	default:
		return EngineSQLite
	}
}

// Open resolves the DSN to an engine and constructs the provider through
// the registry. Engines must have registered themselves (imported for side
// effect) before Open is called.
func Open(dsn string, opts Options) (Provider, error) {
	return OpenEngine(Detect(dsn), dsn, opts)
}

// OpenEngine constructs a provider for an explicit engine, bypassing DSN
// detection.
func OpenEngine(e Engine, dsn string, opts Options) (Provider, error) {
	constructor := getConstructor(e)
	if constructor == nil {
		return nil, fmt.Errorf("no registered constructor for engine %s (available: %v)", e, RegisteredEngines())
	}

	p, err := constructor(dsn, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s provider: %w", e, err)
	}
	return p, nil
}
