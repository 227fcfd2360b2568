// Package plan builds the advisory plan for a run. The plan is a loose,
// ordered guideline produced by the oracle; routing is never required to
// follow it.
package plan

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/feedback"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/oracle"
)

type (
	// Plan is the advisory plan of a run.
	Plan struct {
		// ID is stable for the lifetime of the Builder that produced it.
		ID string `json:"id"`
		// Task is the task as restated by the oracle.
		Task string `json:"task"`
		// Steps is the plan payload exactly as the oracle shaped it: free
		// text, a list of steps (typically {action, rationale} objects), or
		// any other JSON value.
		Steps any `json:"plan"`
	}

	// Input gathers what the oracle sees when planning.
	Input struct {
		Task     string
		History  []history.Entry
		Tools    []oracle.ToolInfo
		Agents   []agent.Card
		Feedback *feedback.Feedback
	}

	// Builder builds and revises a plan under a single ID.
	Builder struct {
		client *oracle.Client
		id     string

		mu      sync.Mutex
		current *Plan
	}
)

// NewBuilder returns a Builder backed by c.
func NewBuilder(c *oracle.Client) *Builder {
	return &Builder{client: c, id: uuid.NewString()}
}

// ID returns the plan id.
func (b *Builder) ID() string { return b.id }

// Current returns the most recent plan or nil.
func (b *Builder) Current() *Plan {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Build asks the oracle for a plan, or a revision of the current one, and
// makes it current.
func (b *Builder) Build(ctx context.Context, in Input) (*Plan, error) {
	var fb any
	if in.Feedback != nil {
		fb = in.Feedback
	}
	var prev any
	if cur := b.Current(); cur != nil {
		prev = cur
	}
	obj, err := b.client.Plan(ctx, oracle.PlanInput{
		Task:     in.Task,
		History:  in.History,
		Tools:    in.Tools,
		Agents:   in.Agents,
		Feedback: fb,
		Previous: prev,
	})
	if err != nil {
		return nil, err
	}
	task := strings.TrimSpace(oracle.String(obj, "task"))
	if task == "" {
		task = in.Task
	}
	p := &Plan{ID: b.id, Task: task, Steps: Normalize(obj["plan"])}
	b.mu.Lock()
	b.current = p
	b.mu.Unlock()
	return p, nil
}

// Normalize decodes string plans that hold JSON. Any other value, and
// strings that are not JSON, are returned unchanged.
func Normalize(steps any) any {
	s, ok := steps.(string)
	if !ok {
		return steps
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return s
	}
	return v
}

// Text returns the plan when it is free text.
func (p *Plan) Text() (string, bool) {
	s, ok := p.Steps.(string)
	return s, ok
}

// List returns the plan when it is a list of steps.
func (p *Plan) List() ([]any, bool) {
	l, ok := p.Steps.([]any)
	return l, ok
}
