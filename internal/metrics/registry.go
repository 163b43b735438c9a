package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Factory creates a provider from a config map.
type Factory func(config map[string]string) (DegradedProvider, error)

// Registry holds named degraded-mode provider factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Providers is the global provider registry.
var Providers = func() *Registry {
	r := NewRegistry()
	r.Register("random", func(config map[string]string) (DegradedProvider, error) {
		var seed uint64
		if s := config["seed"]; s != "" {
			v, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("random provider seed: %w", err)
			}
			seed = v
		}
		return NewRandomProvider(seed), nil
	})
	r.Register("fixed", func(map[string]string) (DegradedProvider, error) {
		return FixedProvider{}, nil
	})
	return r
}()

// Register adds a named factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the named provider.
func (r *Registry) Create(name string, config map[string]string) (DegradedProvider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown degraded provider %q", name)
	}
	return factory(config)
}

// List returns the registered names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
