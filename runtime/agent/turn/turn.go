// Package turn assembles the per-turn context: a compact view of history
// produced by the oracle, with any overflow values it asks for inlined.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"goa.design/taskloop/runtime/agent/feedback"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/oracle"
	"goa.design/taskloop/runtime/agent/overflow"
)

type (
	// TurnContext is the compact per-turn bundle given to routing. A new
	// TurnContext is built every turn.
	TurnContext struct {
		ID       string             `json:"id"`
		Task     string             `json:"task"`
		Context  string             `json:"context"`
		Comments string             `json:"comments,omitempty"`
		Data     []oracle.Payload   `json:"data,omitempty"`
		Feedback *feedback.Feedback `json:"feedback,omitempty"`
	}

	// Builder builds turn contexts.
	Builder struct {
		client *oracle.Client
		store  overflow.Store
		filter history.Filter
	}

	// Option configures a Builder.
	Option func(*Builder)
)

// WithFilter replaces history.DefaultFilter as the history selection.
func WithFilter(f history.Filter) Option {
	return func(b *Builder) {
		if f != nil {
			b.filter = f
		}
	}
}

// NewBuilder returns a Builder resolving overflow ids through store.
func NewBuilder(c *oracle.Client, store overflow.Store, opts ...Option) *Builder {
	b := &Builder{client: c, store: store, filter: history.DefaultFilter}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

// Build compresses the filtered history of log into a TurnContext. The oracle
// may only reference overflow ids present in the filtered history and in the
// store; a reply naming any other id is rejected and retried, and a
// persistent violation is returned as *oracle.ContractError.
func (b *Builder) Build(ctx context.Context, task string, log *history.Log, fb *feedback.Feedback) (*TurnContext, error) {
	entries := log.View(b.filter)
	known := ReferencedIDs(entries)
	var fbIn any
	if fb != nil {
		fbIn = fb
	}
	var ids []string
	obj, err := b.client.Context(ctx, oracle.ContextInput{
		Task:     task,
		History:  entries,
		Feedback: fbIn,
	}, func(o map[string]any) error {
		ids = oracle.Strings(o, "payload_ids")
		for _, id := range ids {
			if !known[id] {
				return fmt.Errorf("%w: overflow id %q is not referenced by history", oracle.ErrInvalidValue, id)
			}
			ok, err := b.store.Has(ctx, id)
			if err != nil {
				return fmt.Errorf("check overflow id %q: %w", id, err)
			}
			if !ok {
				return fmt.Errorf("%w: overflow id %q does not exist", oracle.ErrInvalidValue, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	tc := &TurnContext{
		ID:       uuid.NewString(),
		Task:     strings.TrimSpace(oracle.String(obj, "task")),
		Context:  oracle.String(obj, "context"),
		Comments: oracle.String(obj, "comments"),
		Feedback: fb,
	}
	if tc.Task == "" {
		tc.Task = task
	}
	for _, id := range ids {
		v, err := b.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve overflow id %q: %w", id, err)
		}
		tc.Data = append(tc.Data, oracle.Payload{ID: id, Value: v})
	}
	return tc, nil
}

// ReferencedIDs returns the overflow ids referenced by environment entries.
func ReferencedIDs(entries []history.Entry) map[string]bool {
	ids := make(map[string]bool)
	for _, e := range entries {
		if e.Kind != history.KindEnvironment {
			continue
		}
		var ref history.OverflowRef
		if err := json.Unmarshal([]byte(e.Content), &ref); err != nil {
			continue
		}
		if ref.OverflowID != "" {
			ids[ref.OverflowID] = true
		}
	}
	return ids
}
