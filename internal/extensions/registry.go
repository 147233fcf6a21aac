package extensions

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the extensions registered with one gateway instance. Each
// gateway owns its own Registry; nothing is process-global, so two gateways
// in one process never see each other's extensions.
type Registry struct {
	mu   sync.RWMutex
	exts map[string]Extension
}

// NewRegistry creates an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{exts: make(map[string]Extension)}
}

// Register adds an extension. Registering a nil extension, an empty name or
// a duplicate name is an error; callers treat registration failures as
// non-fatal and log them.
func (r *Registry) Register(ext Extension) error {
	if ext == nil {
		return fmt.Errorf("extension cannot be nil")
	}
	name := ext.Name()
	if name == "" {
		return fmt.Errorf("extension name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.exts[name]; exists {
		return fmt.Errorf("extension %q already registered", name)
	}
	r.exts[name] = ext
	return nil
}

// Has reports whether an extension with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exts[name]
	return ok
}

// Get returns the named extension, if registered.
func (r *Registry) Get(name string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.exts[name]
	return ext, ok
}

// List returns all registered extensions sorted by name.
func (r *Registry) List() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Extension, 0, len(r.exts))
	for _, ext := range r.exts {
		result = append(result, ext)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// Names returns the names of all registered extensions, sorted.
func (r *Registry) Names() []string {
	exts := r.List()
	names := make([]string, len(exts))
	for i, ext := range exts {
		names[i] = ext.Name()
	}
	return names
}

// Observers returns the registered extensions that observe settlements,
// sorted by name.
func (r *Registry) Observers() []SettlementObserver {
	var observers []SettlementObserver
	for _, ext := range r.List() {
		if obs, ok := ext.(SettlementObserver); ok {
			observers = append(observers, obs)
		}
	}
	return observers
}
