// Package overflow defines the side store for oversized results. History
// entries reference externalized values by an opaque id instead of carrying
// them inline, keeping history and per-turn context bounded.
//
// Stores are write-once: ids are generated fresh by Put and a stored value is
// never mutated or reused, so a store may be shared by reference between a
// run and its delegates.
package overflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultThreshold is the serialized word count above which a result is
// externalized.
const DefaultThreshold = 100

// ErrNotFound is returned by Get when no value exists for the id.
var ErrNotFound = errors.New("overflow: not found")

// Store is an overflow store. Implementations must generate collision-free
// ids and tolerate concurrent Put calls.
type Store interface {
	// Put stores value and returns its fresh id.
	Put(ctx context.Context, value any) (string, error)
	// Get returns the value stored under id or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (any, error)
	// Has reports whether id exists.
	Has(ctx context.Context, id string) (bool, error)
}

// Size returns the word count of the JSON serialization of v, counted as if
// elements were separated by ", " and keys by ": ". Values that cannot be
// serialized are measured by their default formatting.
func Size(v any) int {
	b, ok := v.(json.RawMessage)
	if !ok {
		var err error
		if b, err = json.Marshal(v); err != nil {
			return len(strings.Fields(fmt.Sprint(v)))
		}
	}
	return len(strings.Fields(spaced(b)))
}

// spaced inserts a space after every structural comma and colon of the JSON
// text b.
func spaced(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) + len(b)/4)
	var inString, escaped bool
	for _, c := range b {
		sb.WriteByte(c)
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && (c == ',' || c == ':'):
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

// Exceeds reports whether v is larger than threshold words. A threshold
// below 1 means DefaultThreshold.
func Exceeds(v any, threshold int) bool {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return Size(v) > threshold
}

// NotFound returns an error wrapping ErrNotFound for id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, id)
}
