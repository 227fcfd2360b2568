package oracle

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DecodeJSON parses a reply into a generic JSON value. Markdown code fences
// and prose surrounding a single JSON object or array are tolerated.
func DecodeJSON(raw string) (any, error) {
	s := stripFence(strings.TrimSpace(raw))
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, nil
	}
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(s[start:end+1]), &v); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMalformed, abbreviate(raw))
}

// DecodeObject parses a reply that must be a JSON object.
func DecodeObject(raw string) (map[string]any, error) {
	v, err := DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformed, v)
	}
	return obj, nil
}

// Unwrap returns obj when it holds every field, otherwise the first nested
// object (by key order) one level down that does. Replies often wrap the
// expected object under an arbitrary key.
func Unwrap(obj map[string]any, fields ...string) (map[string]any, bool) {
	if hasAll(obj, fields) {
		return obj, true
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if nested, ok := obj[k].(map[string]any); ok && hasAll(nested, fields) {
			return nested, true
		}
	}
	return nil, false
}

// String returns obj[key] as a string. Non-string scalars are formatted and
// other values are JSON encoded.
func String(obj map[string]any, key string) string {
	return stringify(obj[key])
}

// Strings returns obj[key] as a list of strings. A single scalar becomes a
// one-element list.
func Strings(obj map[string]any, key string) []string {
	switch v := obj[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s := stringify(x); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := stringify(v); s != "" {
			return []string{s}
		}
		return nil
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func hasAll(obj map[string]any, fields []string) bool {
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			return false
		}
	}
	return true
}

func stripFence(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	block := strings.TrimSpace(parts[1])
	if strings.HasPrefix(block, "json") {
		block = strings.TrimSpace(strings.TrimPrefix(block, "json"))
	}
	return block
}

func abbreviate(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
