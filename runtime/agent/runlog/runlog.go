// Package runlog provides an append-only event log mirroring agent run
// histories for introspection after the fact.
//
// Every history entry appended during a run is mirrored as one Event keyed by
// run id. Callers list events back with opaque forward cursors.
package runlog

import (
	"context"
	"time"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/history"
)

type (
	// Event is one mirrored history entry.
	Event struct {
		// ID is assigned by the store on Append. IDs are opaque and ordered
		// within a run.
		ID string `json:"id" bson:"-"`
		// RunID identifies the run.
		RunID string `json:"run_id" bson:"run_id"`
		// AgentID identifies the agent that owns the run.
		AgentID agent.Ident `json:"agent_id" bson:"agent_id"`
		// Seq is the history sequence number of the mirrored entry.
		Seq int `json:"seq" bson:"seq"`
		// Kind is the history entry kind.
		Kind history.Kind `json:"kind" bson:"kind"`
		// Content is the entry content, verbatim.
		Content string `json:"content" bson:"content"`
		// Timestamp is the entry time.
		Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	}

	// Page is a forward page of run events.
	Page struct {
		// Events are ordered oldest-first.
		Events []*Event
		// NextCursor fetches the next page. Empty when there are no more
		// events.
		NextCursor string
	}

	// Store is an append-only event store.
	Store interface {
		// Append stores e and assigns e.ID.
		Append(ctx context.Context, e *Event) error
		// List returns up to limit events of runID after cursor. An empty
		// cursor starts at the beginning. limit must be positive.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}
)

// FromEntry builds the event mirroring a history entry.
func FromEntry(runID string, agentID agent.Ident, e history.Entry) *Event {
	return &Event{
		RunID:     runID,
		AgentID:   agentID,
		Seq:       e.Seq,
		Kind:      e.Kind,
		Content:   e.Content,
		Timestamp: e.Timestamp,
	}
}

// Mirror returns a history observer appending every entry to s. Append
// failures are passed to onErr (when set) and never interrupt the run.
func Mirror(ctx context.Context, s Store, runID string, agentID agent.Ident, onErr func(error)) history.Observer {
	return func(e history.Entry) {
		if err := s.Append(context.WithoutCancel(ctx), FromEntry(runID, agentID, e)); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// All lists every event of runID, following cursors with the given page size.
func All(ctx context.Context, s Store, runID string, pageSize int) ([]*Event, error) {
	var (
		out    []*Event
		cursor string
	)
	for {
		page, err := s.List(ctx, runID, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Events...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}
