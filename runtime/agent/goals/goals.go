// Package goals infers short- and long-term goals for a task. Goals are an
// optional, advisory input to routing.
package goals

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/oracle"
)

// Goal statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type (
	// Status is the progress of a goal.
	Status string

	// Goal is one inferred goal.
	Goal struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		Description  string `json:"description"`
		ShortTerm    string `json:"short_term_goal"`
		LongTerm     string `json:"long_term_goal"`
		Status       Status `json:"status"`
		Accomplished bool   `json:"accomplished"`
	}

	// Input gathers what the oracle sees when inferring goals.
	Input struct {
		Task     string
		Goals    []Goal
		History  []history.Entry
		Tools    []oracle.ToolInfo
		Agents   []agent.Card
		Progress any
	}

	// Builder infers goals through the oracle.
	Builder struct {
		client *oracle.Client
	}
)

// NewBuilder returns a Builder backed by c.
func NewBuilder(c *oracle.Client) *Builder {
	return &Builder{client: c}
}

// Infer asks the oracle for the goals of in.Task. Every returned goal gets a
// fresh ID.
func (b *Builder) Infer(ctx context.Context, in Input) ([]Goal, error) {
	var current any
	if len(in.Goals) > 0 {
		current = in.Goals
	}
	var out []Goal
	_, err := b.client.Goals(ctx, oracle.GoalsInput{
		Task:     in.Task,
		Goals:    current,
		History:  in.History,
		Tools:    in.Tools,
		Agents:   in.Agents,
		Progress: in.Progress,
	}, func(v any) error {
		items, err := Normalize(v)
		if err != nil {
			return err
		}
		goals := make([]Goal, 0, len(items))
		for i, item := range items {
			g, err := parse(item)
			if err != nil {
				return fmt.Errorf("goal %d: %w", i, err)
			}
			goals = append(goals, g)
		}
		out = goals
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize extracts the goal list from a reply: a bare list, a "goals"
// list, a "goal" object or list, or the first list-valued field (by key
// order).
func Normalize(v any) ([]any, error) {
	switch val := v.(type) {
	case []any:
		return val, nil
	case map[string]any:
		if l, ok := val["goals"].([]any); ok {
			return l, nil
		}
		switch g := val["goal"].(type) {
		case []any:
			return g, nil
		case map[string]any:
			return []any{g}, nil
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if l, ok := val[k].([]any); ok {
				return l, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no goal list in reply", oracle.ErrMissingField)
}

func parse(item any) (Goal, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return Goal{}, fmt.Errorf("%w: goal must be an object, got %T", oracle.ErrInvalidValue, item)
	}
	g := Goal{
		ID:          uuid.NewString(),
		Name:        oracle.String(obj, "name"),
		Description: oracle.String(obj, "description"),
		ShortTerm:   oracle.String(obj, "short_term_goal"),
		LongTerm:    oracle.String(obj, "long_term_goal"),
		Status:      StatusPending,
	}
	if g.Name == "" {
		return Goal{}, fmt.Errorf("%w: %q", oracle.ErrMissingField, "name")
	}
	if s := oracle.String(obj, "status"); s != "" {
		st := Status(strings.ToLower(strings.TrimSpace(s)))
		switch st {
		case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
			g.Status = st
		default:
			return Goal{}, fmt.Errorf("%w: unknown goal status %q", oracle.ErrInvalidValue, s)
		}
	}
	if a, ok := obj["accomplished"].(bool); ok {
		g.Accomplished = a
	}
	return g, nil
}
