// Package oracletest provides a scripted oracle for tests. Replies are queued
// per request kind and consumed in order; a default reply or handler covers
// calls once the queue is drained.
package oracletest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"goa.design/taskloop/runtime/agent/oracle"
)

// ErrUnscripted is returned for a request kind with nothing scripted.
var ErrUnscripted = errors.New("oracletest: no reply scripted")

type (
	// Script is a scripted oracle.Oracle. It is safe for concurrent use.
	Script struct {
		mu       sync.Mutex
		queued   map[oracle.Kind][]reply
		fallback map[oracle.Kind]oracle.Func
		calls    []oracle.Request
	}

	reply struct {
		text string
		err  error
	}
)

var _ oracle.Oracle = (*Script)(nil)

// New returns an empty script.
func New() *Script {
	return &Script{
		queued:   make(map[oracle.Kind][]reply),
		fallback: make(map[oracle.Kind]oracle.Func),
	}
}

// On queues replies for kind. Non-string replies are JSON encoded.
func (s *Script) On(kind oracle.Kind, replies ...any) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range replies {
		s.queued[kind] = append(s.queued[kind], reply{text: JSON(r)})
	}
	return s
}

// OnError queues a failed call for kind.
func (s *Script) OnError(kind oracle.Kind, err error) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[kind] = append(s.queued[kind], reply{err: err})
	return s
}

// Always answers kind with r once its queue is drained.
func (s *Script) Always(kind oracle.Kind, r any) *Script {
	text := JSON(r)
	return s.Handle(kind, func(context.Context, oracle.Request) (string, error) { return text, nil })
}

// Handle answers kind with fn once its queue is drained.
func (s *Script) Handle(kind oracle.Kind, fn oracle.Func) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[kind] = fn
	return s
}

// Ask implements oracle.Oracle.
func (s *Script) Ask(ctx context.Context, req oracle.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	if q := s.queued[req.Kind]; len(q) > 0 {
		s.queued[req.Kind] = q[1:]
		s.mu.Unlock()
		return q[0].text, q[0].err
	}
	fn := s.fallback[req.Kind]
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return "", fmt.Errorf("%w: %s", ErrUnscripted, req.Kind)
}

// Calls returns the requests received, optionally restricted to kinds.
func (s *Script) Calls(kinds ...oracle.Kind) []oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []oracle.Request
	for _, c := range s.calls {
		if len(kinds) == 0 {
			out = append(out, c)
			continue
		}
		for _, k := range kinds {
			if c.Kind == k {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Count returns the number of requests received for kind.
func (s *Script) Count(kind oracle.Kind) int {
	return len(s.Calls(kind))
}

// JSON encodes v, returning strings verbatim.
func JSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("oracletest: encode reply: %v", err))
	}
	return string(b)
}
