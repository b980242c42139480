package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry is the named tool table. It is safe for concurrent use;
// catalog reloads swap definitions while runs are executing.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Definition
	disabled map[string]bool
	logger   *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]Definition),
		disabled: make(map[string]bool),
		logger:   logger,
	}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		r.logger.Info("Replacing tool definition", zap.String("tool", def.Name))
	}
	r.tools[def.Name] = def
	return nil
}

// SetDisabled replaces the disabled set, typically from a catalog
// reload. Disabled tools stay registered but refuse invocations.
func (r *Registry) SetDisabled(names []string) {
	next := make(map[string]bool, len(names))
	for _, n := range names {
		next[n] = true
	}
	r.mu.Lock()
	r.disabled = next
	r.mu.Unlock()
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke executes a tool by name. Unknown and disabled tools fail
// permanently; input validation failures fail permanently; handler
// errors keep whatever classification the handler chose.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	def, ok := r.tools[name]
	off := r.disabled[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no tool named %q: %w", name, ErrUnknownTool)
	}
	if off {
		return nil, permanentf(name, "tool is disabled by catalog")
	}
	for _, field := range def.Required {
		if _, present := input[field]; !present {
			return nil, permanentf(name, "missing required input field %q", field)
		}
	}

	out, err := def.Handler(ctx, input)
	if err != nil {
		return nil, err
	}
	return out, nil
}
