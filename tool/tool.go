// Package tool provides the tool registry, the invocation gateway with
// per-call timeouts and output truncation, and background execution.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Executor is the function signature for tool execution.
type Executor func(ctx context.Context, args json.RawMessage) (string, error)

// Definition describes a tool to the model (JSON Schema parameters).
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	// ReadOnly marks tools that never mutate the workspace; read-only
	// mode admits only these.
	ReadOnly bool `json:"read_only,omitempty"`
}

// Registered pairs a definition with its executor.
type Registered struct {
	Definition Definition
	Executor   Executor
}

// Registry manages tool registration and lookup. The table is built
// explicitly at startup; nothing is discovered by reflection.
type Registry struct {
	tools map[string]*Registered
	order []string
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Registered)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Registered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Definition.Name]; !exists {
		r.order = append(r.order, t.Definition.Name)
	}
	r.tools[t.Definition.Name] = &t
}

// Get returns a registered tool by name, or nil.
func (r *Registry) Get(name string) *Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// IsReadOnly reports whether a tool is marked read-only. Unknown tools
// are not.
func (r *Registry) IsReadOnly(name string) bool {
	t := r.Get(name)
	return t != nil && t.Definition.ReadOnly
}

// ParseArgs unmarshals tool call arguments into a map.
func ParseArgs(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// StringArg extracts a string argument.
func StringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg extracts an integer argument.
func IntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// BoolArg extracts a boolean argument.
func BoolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
