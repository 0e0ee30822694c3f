// Package registry holds the fixed catalog of tools served to agents.
//
// Tools are registered once during startup, after which the registry is
// frozen. A frozen registry never changes, so Lookup and List take no locks
// and are safe for any number of concurrent callers.
package registry

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"k3smcp/internal/api"
	"k3smcp/pkg/logging"
)

// Entry pairs a descriptor with the handler that executes it.
type Entry struct {
	Descriptor api.ToolDescriptor
	Handler    api.Handler
}

// Registry maps tool names to entries and remembers insertion order.
type Registry struct {
	// mu guards registration; reads after Freeze do not lock.
	mu      sync.Mutex
	frozen  atomic.Bool
	entries []Entry
	index   map[string]int
}

// New creates an empty, unfrozen registry.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds a tool. It fails with DuplicateTool when the name is already
// present and with InternalError once the registry is frozen.
func (r *Registry) Register(desc api.ToolDescriptor, handler api.Handler) error {
	name := desc.Name()
	if strings.TrimSpace(name) == "" {
		return api.InvalidArgument([]string{"name"}, "tool name must not be empty")
	}
	if handler == nil {
		return api.NewError(api.KindInternalError, "tool %s has no handler", name)
	}
	switch desc.SideEffect {
	case api.SideEffectReadOnly, api.SideEffectMutating, api.SideEffectDestructive:
	default:
		return api.NewError(api.KindInternalError, "tool %s has unknown side-effect class %q", name, desc.SideEffect)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return api.NewError(api.KindInternalError, "registry is frozen; cannot register %s", name)
	}
	if _, exists := r.index[name]; exists {
		return api.NewError(api.KindDuplicateTool, "tool %s already registered", name)
	}

	r.index[name] = len(r.entries)
	r.entries = append(r.entries, Entry{Descriptor: desc, Handler: handler})
	logging.Debug("Registry", "Registered tool %s (%s)", name, desc.SideEffect)
	return nil
}

// Freeze ends registration. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.CompareAndSwap(false, true) {
		logging.Info("Registry", "Tool catalog frozen with %d tools", len(r.entries))
	}
}

// Frozen reports whether registration has ended.
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// Lookup returns the entry for name or fails with UnknownTool.
func (r *Registry) Lookup(name string) (Entry, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	i, ok := r.index[name]
	if !ok {
		return Entry{}, api.NewError(api.KindUnknownTool, "unknown tool %q", name)
	}
	return r.entries[i], nil
}

// List returns the descriptors in registration order.
func (r *Registry) List() []api.ToolDescriptor {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]api.ToolDescriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// Tools returns the MCP tool definitions in registration order, as
// advertised by tools/list.
func (r *Registry) Tools() []mcp.Tool {
	descs := r.List()
	out := make([]mcp.Tool, len(descs))
	for i, d := range descs {
		out[i] = d.Tool
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	return len(r.entries)
}
