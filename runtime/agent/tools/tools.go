// Package tools defines capabilities: atomic, schema-described callables the
// orchestrator may invoke on behalf of the agent.
package tools

import (
	"context"
	"sort"
	"strings"
)

// ContextParam is the parameter name through which a capability receives the
// ambient *Context. Parameters prefixed with "_" receive the matching
// Context property instead (e.g., "_workdir" receives Properties["workdir"]).
const ContextParam = "tool_context"

type (
	// Ident is the strong type for capability names. Names are unique within
	// a registry.
	Ident string

	// Spec describes a capability to routing and validation.
	Spec struct {
		// Name is the unique capability name.
		Name Ident
		// Description is shown to the reasoning oracle.
		Description string
		// Tags categorize the capability for registry filtering.
		Tags []string
		// Schema is the JSON schema of the argument object. Nil accepts any
		// object.
		Schema map[string]any
		// Terminal marks a capability whose invocation ends the run.
		Terminal bool
		// ContextParams lists the ambient parameters the capability accepts:
		// ContextParam and/or "_"-prefixed property names. They are injected
		// by the executor and hidden from the oracle.
		ContextParams []string
	}

	// Func implements a capability. args is a private copy owned by the
	// call. A returned error or panic is reported as a failed execution.
	Func func(ctx context.Context, args map[string]any) (any, error)

	// Capability pairs a spec with its implementation.
	Capability struct {
		Spec
		Invoke Func
	}

	// Context is the ambient context injected into capabilities that ask for
	// it.
	Context struct {
		// ID identifies the context (typically the run id).
		ID string
		// Properties are exposed to "_"-prefixed parameters.
		Properties map[string]any
	}

	// Param describes one argument for InferSchema.
	Param struct {
		Name        string
		Type        string
		Description string
		Required    bool
		// Items is the JSON type of array elements when Type is "array".
		Items string
	}
)

// String returns the name as a string.
func (id Ident) String() string { return string(id) }

// HasTag reports whether s carries tag.
func (s Spec) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Injects reports whether param is an ambient parameter of the capability.
func (s Spec) Injects(param string) bool {
	for _, p := range s.ContextParams {
		if p == param {
			return true
		}
	}
	return false
}

// Inject returns the ambient values for the capability's context parameters.
// Parameters without a matching property are omitted.
func (s Spec) Inject(tc *Context) map[string]any {
	if tc == nil || len(s.ContextParams) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.ContextParams))
	for _, p := range s.ContextParams {
		switch {
		case p == ContextParam:
			out[p] = tc
		case strings.HasPrefix(p, "_"):
			if v, ok := tc.Properties[strings.TrimPrefix(p, "_")]; ok {
				out[p] = v
			}
		}
	}
	return out
}

// New builds a capability from a name, description, parameters, and
// implementation. The schema is inferred from params.
func New(name, description string, fn Func, params ...Param) Capability {
	return Capability{
		Spec: Spec{
			Name:        Ident(name),
			Description: description,
			Schema:      InferSchema(params...),
		},
		Invoke: fn,
	}
}

// InferSchema builds an object JSON schema from params. Untyped parameters
// default to "string".
func InferSchema(params ...Param) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if typ == "array" && p.Items != "" {
			prop["items"] = map[string]any{"type": p.Items}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		// []any keeps the schema in the shape produced by JSON decoding.
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}
