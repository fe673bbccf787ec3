package check

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrUnknownType is returned by Create for a name nobody registered.
	ErrUnknownType = errors.New("unknown check type")
	// ErrDuplicateType is returned by Register when the name is taken.
	ErrDuplicateType = errors.New("check type already registered")
)

// Factory builds a Check from the loosely typed settings the probe passes
// ("target", "port", "timeout" and type-specific keys).
type Factory func(config map[string]any) (Check, error)

// Registry maps check type names to factories. It is safe for concurrent
// use; the probe builds one at startup and creates a fresh Check per probe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes factory available under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("check: register needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.factories[name]; taken {
		return fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register for built-in types; it panics on error.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Create builds a Check of type name from config.
func (r *Registry) Create(name string, config map[string]any) (Check, error) {
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return factory(config)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Types returns the registered names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	r.mu.RUnlock()
	slices.Sort(types)
	return types
}
