package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a provider for a given DSN and options.
// Implementations register themselves with the registry using Register().
type Constructor func(dsn string, opts Options) (Provider, error)

// registry maps engines to their constructors
var (
	registry      = make(map[Engine]Constructor)
	registryMutex sync.RWMutex
)

// Register registers an engine constructor.
// This is called from init() functions in implementation packages
// (sqlite, libsql).
//
// Example:
//
//	func init() {
//	    provider.Register(provider.EngineSQLite, New)
//	}
func Register(e Engine, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("provider: Register constructor is nil for engine %s", e))
	}

	if _, exists := registry[e]; exists {
		panic(fmt.Sprintf("provider: Register called twice for engine %s", e))
	}

	registry[e] = constructor
}

// getConstructor retrieves the constructor for an engine.
// Returns nil if the engine is not registered.
func getConstructor(e Engine) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[e]
}

// IsRegistered returns true if a constructor is registered for the engine.
func IsRegistered(e Engine) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[e]
	return exists
}

// RegisteredEngines returns all registered engines, sorted for stable
// error messages.
func RegisteredEngines() []Engine {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	engines := make([]Engine, 0, len(registry))
	for e := range registry {
		engines = append(engines, e)
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i] < engines[j] })
	return engines
}

// UnregisterAll clears all registered constructors.
// This is primarily useful for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[Engine]Constructor)
}
