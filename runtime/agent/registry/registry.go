// Package registry holds the capabilities and delegate agents available to a
// run. A registry is built once from a catalogue, optionally narrowed by tag
// or name, and looked up by name during routing.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/tools"
)

var (
	// ErrUnknownCapability reports a routing choice naming no registered
	// capability.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrUnknownAgent reports a routing choice naming no registered agent.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrMissingTerminal is returned by New when the designated terminal
	// capability is absent from the catalogue.
	ErrMissingTerminal = errors.New("terminal capability not found in catalogue")
)

type (
	// Registry is a name-keyed table of capabilities and agent handles.
	// Name collisions overwrite silently; callers pick unique names.
	Registry struct {
		mu     sync.RWMutex
		tools  map[tools.Ident]tools.Capability
		agents map[agent.Ident]agent.Handle
	}

	// Option narrows or extends registry construction.
	Option func(*options)

	options struct {
		tags     []string
		names    []string
		terminal string
		agents   []agent.Handle
	}
)

// WithTags keeps only capabilities carrying at least one of tags.
func WithTags(tags ...string) Option {
	return func(o *options) { o.tags = append(o.tags, tags...) }
}

// WithNames keeps only capabilities whose name is listed.
func WithNames(names ...string) Option {
	return func(o *options) { o.names = append(o.names, names...) }
}

// WithTerminal designates the terminal capability. It is registered even when
// filtered out by tags or names, and New fails when the catalogue lacks it.
func WithTerminal(name string) Option {
	return func(o *options) { o.terminal = name }
}

// WithAgents registers delegate agents.
func WithAgents(handles ...agent.Handle) Option {
	return func(o *options) { o.agents = append(o.agents, handles...) }
}

// New builds a registry from catalogue.
func New(catalogue []tools.Capability, opts ...Option) (*Registry, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	r := &Registry{
		tools:  make(map[tools.Ident]tools.Capability),
		agents: make(map[agent.Ident]agent.Handle),
	}
	var terminal *tools.Capability
	for i := range catalogue {
		c := catalogue[i]
		if o.terminal != "" && string(c.Name) == o.terminal {
			terminal = &c
			continue
		}
		if len(o.names) > 0 && !contains(o.names, string(c.Name)) {
			continue
		}
		if len(o.tags) > 0 && !anyTag(c.Spec, o.tags) {
			continue
		}
		r.tools[c.Name] = c
	}
	if o.terminal != "" {
		if terminal == nil {
			return nil, fmt.Errorf("%w: %q", ErrMissingTerminal, o.terminal)
		}
		terminal.Terminal = true
		r.tools[terminal.Name] = *terminal
	}
	for _, h := range o.agents {
		r.RegisterAgent(h)
	}
	return r, nil
}

// Register adds or replaces a capability.
func (r *Registry) Register(c tools.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[c.Name] = c
}

// RegisterAgent adds or replaces a delegate agent keyed by its card name.
func (r *Registry) RegisterAgent(h agent.Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[h.Card().Name] = h
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (tools.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.tools[tools.Ident(name)]
	return c, ok
}

// Agent returns the delegate registered under name.
func (r *Registry) Agent(name string) (agent.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.agents[agent.Ident(name)]
	return h, ok
}

// Find returns the capability registered under name or an error wrapping
// ErrUnknownCapability.
func (r *Registry) Find(name string) (tools.Capability, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return tools.Capability{}, fmt.Errorf("%w %q", ErrUnknownCapability, name)
	}
	return c, nil
}

// FindAgent returns the delegate registered under name or an error wrapping
// ErrUnknownAgent.
func (r *Registry) FindAgent(name string) (agent.Handle, error) {
	h, ok := r.Agent(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAgent, name)
	}
	return h, nil
}

// Tools returns every registered capability sorted by name.
func (r *Registry) Tools() []tools.Capability {
	r.mu.RLock()
	out := make([]tools.Capability, 0, len(r.tools))
	for _, c := range r.tools {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Specs returns the specs of every registered capability sorted by name.
func (r *Registry) Specs() []tools.Spec {
	caps := r.Tools()
	out := make([]tools.Spec, len(caps))
	for i, c := range caps {
		out[i] = c.Spec
	}
	return out
}

// Agents returns every registered delegate sorted by name.
func (r *Registry) Agents() []agent.Handle {
	r.mu.RLock()
	out := make([]agent.Handle, 0, len(r.agents))
	for _, h := range r.agents {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Card().Name < out[j].Card().Name })
	return out
}

// Cards returns the cards of every registered delegate sorted by name.
func (r *Registry) Cards() []agent.Card {
	hs := r.Agents()
	out := make([]agent.Card, len(hs))
	for i, h := range hs {
		out[i] = h.Card()
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func anyTag(s tools.Spec, tags []string) bool {
	for _, t := range tags {
		if s.HasTag(t) {
			return true
		}
	}
	return false
}
