package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps resource-type names to their adapters. The engine holds only
// references to the Adapter interface; all resource-type knowledge lives in
// the registered adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its declared type name. Registering the
// same name twice is an error.
func (r *Registry) Register(a Adapter) error {
	name := a.Type().Name
	if name == "" {
		return NewValidationError("adapter declares an empty type name", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return NewValidationError(fmt.Sprintf("resource type %q already registered", name), nil)
	}
	r.adapters[name] = a
	return nil
}

// Get returns the adapter for a resource type name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown resource type %q", name), nil)
	}
	return a, nil
}

// List returns the registered type names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
