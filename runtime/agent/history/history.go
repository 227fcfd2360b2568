// Package history implements the append-only record of a run: the task, the
// agent's decisions, and the environment's observations, in insertion order.
//
// Entries are immutable once appended and are never removed. Stages that need
// a narrower view use View or Filtered, which never mutate the log.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry kinds.
const (
	// KindUser records task and user input.
	KindUser Kind = "user"
	// KindAgent records an agent decision (tool call, delegation, answer).
	KindAgent Kind = "agent"
	// KindEnvironment records an observation produced by acting.
	KindEnvironment Kind = "environment"
)

// ErrInvalidKind is returned by Append when the entry kind is unknown.
var ErrInvalidKind = errors.New("history: invalid entry kind")

type (
	// Kind classifies a history entry.
	Kind string

	// Entry is an immutable history record.
	Entry struct {
		// Seq is the 1-based insertion position within the log.
		Seq int `json:"seq"`
		// Kind classifies the entry.
		Kind Kind `json:"type"`
		// Content is the entry text. Decisions and observations carry JSON.
		Content string `json:"content"`
		// Timestamp is the append time.
		Timestamp time.Time `json:"timestamp"`
	}

	// Filter selects entries for presentation.
	Filter func(Entry) bool

	// Observer is notified after every successful append. Observers run
	// synchronously with the append and must not append to the same log.
	Observer func(Entry)

	observer struct {
		id int
		fn Observer
	}

	// Log is an append-only ordered history. A Log is safe for concurrent
	// use so delegates can share their caller's log by reference.
	Log struct {
		mu        sync.RWMutex
		entries   []Entry
		observers []observer
		nextObs   int
		now       func() time.Time
	}
)

// New returns an empty log.
func New() *Log {
	return &Log{now: time.Now}
}

// Valid reports whether k is a known entry kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindAgent, KindEnvironment:
		return true
	}
	return false
}

// Append records a new entry. It only fails when kind is unknown.
func (l *Log) Append(kind Kind, content string) (Entry, error) {
	if !kind.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	l.mu.Lock()
	e := Entry{
		Seq:       len(l.entries) + 1,
		Kind:      kind,
		Content:   content,
		Timestamp: l.clock()(),
	}
	l.entries = append(l.entries, e)
	obs := l.observers
	l.mu.Unlock()
	for _, o := range obs {
		o.fn(e)
	}
	return e, nil
}

// AppendJSON records v serialized as JSON. Strings are stored verbatim.
func (l *Log) AppendJSON(kind Kind, v any) (Entry, error) {
	if s, ok := v.(string); ok {
		return l.Append(kind, s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("history: encode %s entry: %w", kind, err)
	}
	return l.Append(kind, string(b))
}

// Observe registers fn to be called after each append. The returned
// function unregisters it.
func (l *Log) Observe(fn Observer) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextObs++
	id := l.nextObs
	l.observers = append(l.observers, observer{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		kept := make([]observer, 0, len(l.observers))
		for _, o := range l.observers {
			if o.id != id {
				kept = append(kept, o)
			}
		}
		l.observers = kept
	}
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all entries in insertion order.
func (l *Log) Entries() []Entry {
	return l.View(nil)
}

// View returns the entries matching f in insertion order. A nil filter
// matches every entry.
func (l *Log) View(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if f == nil || f(e) {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent entry whose kind is one of kinds. With no
// kinds the most recent entry of any kind is returned.
func (l *Log) Last(kinds ...Kind) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if len(kinds) == 0 {
			return e, true
		}
		for _, k := range kinds {
			if e.Kind == k {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Filtered returns a new log holding copies of the entries matching f.
// Sequence numbers and timestamps are preserved. The copy has no observers.
func (l *Log) Filtered(f Filter) *Log {
	return &Log{entries: l.View(f), now: l.clock()}
}

func (l *Log) clock() func() time.Time {
	if l.now == nil {
		return time.Now
	}
	return l.now
}

// DefaultFilter keeps the entries relevant to decision-making: user input,
// agent decisions that invoke a tool or agent, and observations reporting a
// successful execution.
func DefaultFilter(e Entry) bool {
	switch e.Kind {
	case KindUser:
		return true
	case KindAgent:
		return strings.Contains(e.Content, `"tool"`) || strings.Contains(e.Content, `"agent"`)
	case KindEnvironment:
		var obs struct {
			Executed *bool `json:"executed"`
		}
		if err := json.Unmarshal([]byte(e.Content), &obs); err != nil {
			return false
		}
		return obs.Executed != nil && *obs.Executed
	}
	return false
}

// Kinds returns a filter matching the given kinds.
func Kinds(kinds ...Kind) Filter {
	return func(e Entry) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}
