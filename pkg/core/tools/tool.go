// Package tools implements the external actions workflow tool steps can
// execute: listing search, calendar availability, and booking creation.
//
// Tool results are plain strings written for the engine to narrate, not
// for machines to parse.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/loftcall/loftcall/pkg/core/engine"
)

// Tool is one executable action.
type Tool interface {
	// Name is the identifier workflow definitions reference.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// ParametersSchema is the JSON Schema for the tool's arguments.
	ParametersSchema() map[string]any

	// Execute runs the tool. Arguments arrive as strings because they
	// are resolved from workflow data paths.
	Execute(ctx context.Context, args map[string]string) (string, error)
}

// Registry holds the tools available to a deployment.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns engine tool schemas for the named tools. Unknown names
// are skipped; the workflow validator catches them earlier.
func (r *Registry) Schemas(names []string) []engine.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []engine.ToolSchema
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		out = append(out, engine.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParametersSchema(),
		})
	}
	return out
}

// MissingArg formats the standard complaint for a required argument.
func MissingArg(tool, arg string) error {
	return fmt.Errorf("%s: missing required argument %q", tool, arg)
}
