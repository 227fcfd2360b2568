// Package inmem provides an in-memory runlog.Store for tests and local runs.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"goa.design/taskloop/runtime/agent/runlog"
)

// Store implements runlog.Store in memory. Event IDs are 1-based positions
// within the run.
type Store struct {
	mu   sync.Mutex
	runs map[string][]runlog.Event
}

// New returns an empty store.
func New() *Store {
	return &Store{runs: make(map[string][]runlog.Event)}
}

// Append implements runlog.Store.
func (s *Store) Append(_ context.Context, e *runlog.Event) error {
	if e == nil {
		return errors.New("event is required")
	}
	if e.RunID == "" {
		return errors.New("run_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.runs[e.RunID]
	e.ID = strconv.Itoa(len(events) + 1)
	s.runs[e.RunID] = append(events, *e)
	return nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, runID string, cursor string, limit int) (runlog.Page, error) {
	if runID == "" {
		return runlog.Page{}, errors.New("run_id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("limit must be > 0")
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.runs[runID]
	if start >= len(events) {
		return runlog.Page{}, nil
	}
	end := min(start+limit, len(events))
	page := runlog.Page{Events: make([]*runlog.Event, 0, end-start)}
	for i := start; i < end; i++ {
		ev := events[i]
		page.Events = append(page.Events, &ev)
	}
	if end < len(events) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// Runs returns the number of distinct runs recorded.
func (s *Store) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
