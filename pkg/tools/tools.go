// Package tools implements the Worker's tool-calling surface: a small
// registry of named capabilities, gated per-role by an allowlist, per
// SPEC_FULL.md §4.3.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/liliang-cn/hive/pkg/hive"
)

// Result is what a Tool call hands back to the Worker loop.
type Result struct {
	Output string
	Data   map[string]any
}

// Tool is a single callable capability a Worker may invoke while executing a
// subtask.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, args map[string]any) (Result, error)
}

// Registry holds the known tools and the per-role allowlist that restricts
// which of them a given Worker role may call.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	// allow maps a role to the set of tool names permitted for it. A role
	// absent from allow may call every registered tool.
	allow map[hive.Role]map[string]struct{}
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		allow: make(map[hive.Role]map[string]struct{}),
	}
}

// Register adds (or replaces) a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Allow restricts role to only the named tools. Calling Allow for a role
// more than once replaces its previous allowlist.
func (r *Registry) Allow(role hive.Role, toolNames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]struct{}, len(toolNames))
	for _, n := range toolNames {
		set[n] = struct{}{}
	}
	r.allow[role] = set
}

// Permitted reports whether role may call the named tool.
func (r *Registry) Permitted(role hive.Role, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, restricted := r.allow[role]
	if !restricted {
		return true
	}
	_, ok := set[name]
	return ok
}

// Call validates the allowlist, resolves the tool, and invokes it.
func (r *Registry) Call(ctx context.Context, role hive.Role, name string, args map[string]any) (Result, error) {
	if !r.Permitted(role, name) {
		return Result{}, fmt.Errorf("role %s is not permitted to call tool %q", role, name)
	}

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown tool %q", name)
	}
	return t.Call(ctx, args)
}

// Names lists registered tool names, for prompt construction.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}
