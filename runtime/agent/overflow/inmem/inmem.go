// Package inmem provides an in-memory overflow store. It is the default arena
// for a run and can be shared with delegates by reference.
package inmem

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"goa.design/taskloop/runtime/agent/overflow"
)

// Store is a process-local overflow store.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

var _ overflow.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string]any)}
}

// Put implements overflow.Store.
func (s *Store) Put(_ context.Context, value any) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.values[id] = value
	s.mu.Unlock()
	return id, nil
}

// Get implements overflow.Store.
func (s *Store) Get(_ context.Context, id string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	if !ok {
		return nil, overflow.NotFound(id)
	}
	return v, nil
}

// Has implements overflow.Store.
func (s *Store) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[id]
	return ok, nil
}

// Len returns the number of stored values.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
