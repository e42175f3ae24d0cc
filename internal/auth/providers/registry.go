package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the configured redirect-based sign-in providers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]OAuthProvider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]OAuthProvider)}
}

// Register adds a provider. Registering the same name twice is a programming error.
func (r *Registry) Register(p OAuthProvider) error {
	if p == nil {
		return fmt.Errorf("provider registry: nil provider")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider registry: provider has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider registry: %s already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name, if any.
func (r *Registry) Get(name string) (OAuthProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names lists registered provider names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
