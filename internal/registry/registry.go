// Package registry holds the process-wide, read-heavy mapping from Provider
// to the constructor that builds a fresh adapters.Adapter for it.
package registry

import (
	"sort"
	"sync"

	"github.com/llmbridge/transllm/internal/adapters"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/translerr"
)

// Constructor builds a new, independent Adapter instance. Registry always
// calls this rather than handing out a shared instance, because adapters
// carry per-session stream state (spec 5, Open Question (a)).
type Constructor func() adapters.Adapter

// Registry maps ir.Provider to adapter constructors. Reads (Get/IsSupported/
// List) vastly outnumber writes (Register/Unregister), so it is guarded by
// an RWMutex rather than a plain Mutex.
type Registry struct {
	mu           sync.RWMutex
	constructors map[ir.Provider]Constructor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{constructors: make(map[ir.Provider]Constructor)}
}

// Register adds or replaces the constructor for provider.
func (r *Registry) Register(provider ir.Provider, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructors[provider] = ctor
}

// Unregister removes provider from the registry, if present.
func (r *Registry) Unregister(provider ir.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.constructors, provider)
}

// Clear removes every registered provider.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructors = make(map[ir.Provider]Constructor)
}

// IsSupported reports whether provider has a registered constructor.
func (r *Registry) IsSupported(provider ir.Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.constructors[provider]

	return ok
}

// List returns the names of every registered provider, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for p := range r.constructors {
		names = append(names, string(p))
	}

	sort.Strings(names)

	return names
}

// GetAdapter builds a fresh Adapter for provider. The provider name is
// canonicalized (lowercased) before lookup, so "OpenAI" and "openai" both
// resolve.
func (r *Registry) GetAdapter(provider string) (adapters.Adapter, error) {
	canon := ir.Provider(canonicalize(provider))

	r.mu.RLock()
	ctor, ok := r.constructors[canon]
	r.mu.RUnlock()

	if !ok {
		return nil, &translerr.UnsupportedProviderError{
			Provider:  provider,
			Supported: r.List(),
		}
	}

	return ctor(), nil
}

func canonicalize(s string) string {
	out := make([]byte, len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}

		out[i] = c
	}

	return string(out)
}
