// Package tools provides the tool contract, the per-run tool registry, and the
// standard support tool set.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrInvalidTool is returned for a tool with no name.
	ErrInvalidTool = errors.New("tool has no name")
)

// Schema is a JSON Schema document in decoded form.
type Schema map[string]any

// Def describes a tool to the model.
type Def struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Args        Schema `json:"args" yaml:"args"`
	Result      Schema `json:"result" yaml:"result"`
}

// Tool is the interface for agent tools.
type Tool interface {
	// Def returns the tool definition for the model.
	Def() Def
	// Run executes the tool. A returned error is recorded as a tool failure
	// and shown to the model; it does not stop the loop.
	Run(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a definition and a function to the Tool interface.
type Func struct {
	Definition Def
	Fn         func(ctx context.Context, args map[string]any) (any, error)
}

// Def returns the tool definition.
func (f *Func) Def() Def { return f.Definition }

// Run calls Fn. A nil Fn returns a nil result.
func (f *Func) Run(ctx context.Context, args map[string]any) (any, error) {
	if f.Fn == nil {
		return nil, nil
	}
	return f.Fn(ctx, args)
}

// Static returns a tool that always yields result.
func Static(def Def, result any) Tool {
	return &Func{
		Definition: def,
		Fn: func(context.Context, map[string]any) (any, error) {
			return result, nil
		},
	}
}

// Registry holds registered tools. It is built fresh for each agent run or
// eval test and is not safe for concurrent Register calls.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Def().Name)
	if name == "" {
		return ErrInvalidTool
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Names returns the names of all registered tools.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defs returns all tool definitions sorted by name.
func (r *Registry) Defs() []Def {
	names := r.Names()
	defs := make([]Def, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Def())
	}
	return defs
}

// Serialize renders every tool as a {name, description, args, result} JSON
// object, one block per tool, separated by a blank line.
func (r *Registry) Serialize() string {
	defs := r.Defs()
	blocks := make([]string, 0, len(defs))
	for _, d := range defs {
		blocks = append(blocks, serializeDef(d))
	}
	return strings.Join(blocks, "\n\n")
}

func serializeDef(d Def) string {
	args := d.Args
	if args == nil {
		args = Schema{"type": "object"}
	}
	result := d.Result
	if result == nil {
		result = Schema{}
	}
	data, err := json.MarshalIndent(Def{
		Name:        d.Name,
		Description: d.Description,
		Args:        args,
		Result:      result,
	}, "", "  ")
	if err != nil {
		// Schemas come from code or YAML fixtures; fall back to the name.
		return fmt.Sprintf(`{"name": %q, "description": %q}`, d.Name, d.Description)
	}
	return string(data)
}
