package manager

import (
	"sync"

	"github.com/hivemindctl/hivemind/internal/agent"
)

// ProviderRegistry maps a provider name (an agent's Provider field) to the
// concrete LLMProvider backing it, implementing cycle.ProviderResolver. No
// such registry exists in the teacher lineage (each channel adapter wires
// its own single provider directly); this is new, grounded on the same
// name-keyed-map-plus-mutex shape as internal/toolkit.Registry.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]agent.LLMProvider
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]agent.LLMProvider)}
}

// Register adds provider under name, replacing any existing registration.
func (r *ProviderRegistry) Register(name string, provider agent.LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Resolve implements cycle.ProviderResolver.
func (r *ProviderRegistry) Resolve(name string) (agent.LLMProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}
