// Package toolkit implements the ToolRegistry and ToolExecutor (spec
// component C4): a name-keyed capability registry and a schema-validating
// executor that wraps tool results into tool-role history messages instead
// of letting failures abort a cycle.
package toolkit

import (
	"sync"

	"github.com/hivemindctl/hivemind/internal/agent"
)

// Registry holds tools by name with thread-safe registration and lookup,
// grounded on the teacher's ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]agent.Tool
}

// NewRegistry creates an empty registry ready for tool registration.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]agent.Tool)}
}

// Register adds a tool, replacing any existing tool registered under the
// same name.
func (r *Registry) Register(tool agent.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name. Safe to call when absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (agent.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, suitable for passing to an
// agent.LLMProvider's CompletionRequest.Tools.
func (r *Registry) All() []agent.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}
