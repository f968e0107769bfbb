package destination

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a Destination from its configuration.
type Factory func(cfg *Config) (Destination, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// UnknownTypeError is returned when the configured destination type has
// no registered factory.
type UnknownTypeError struct {
	Type      string
	Available []string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown destination type %q (available: %v)", e.Type, e.Available)
}

// Register adds a destination factory. Called from the init function of
// each destination package; panics on duplicates.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("destination %q registered twice", name))
	}
	registry[name] = factory
}

// New creates a destination for the configured type. The type is
// normalized first, so legacy aliases resolve to their adapters.
func New(cfg *Config) (Destination, error) {
	name := Normalize(cfg.Type)

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, &UnknownTypeError{Type: cfg.Type, Available: Available()}
	}
	return factory(cfg)
}

// Available returns the registered destination names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
