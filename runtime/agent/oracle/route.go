package oracle

import (
	"strconv"
	"strings"
)

// Route kinds.
const (
	// RouteTool invokes a capability.
	RouteTool RouteKind = "tool"
	// RouteAgent delegates to a peer agent.
	RouteAgent RouteKind = "agent"
	// RouteTerminate ends the run with a response.
	RouteTerminate RouteKind = "terminate"
)

// routeAliases maps alternate spellings of route types onto route kinds.
var routeAliases = map[string]RouteKind{
	"tool":                            RouteTool,
	"agent":                           RouteAgent,
	"terminate":                       RouteTerminate,
	"generate_response_and_terminate": RouteTerminate,
}

type (
	// RouteKind is the typed variant of a routing decision.
	RouteKind string

	// Route is the turn decision.
	Route struct {
		// Kind is the decision variant.
		Kind RouteKind `json:"type"`
		// Name is the capability or agent name. Empty for RouteTerminate.
		Name string `json:"name,omitempty"`
		// ReframedTask is the task restated for the chosen capability or
		// agent. Empty means the original task.
		ReframedTask string `json:"reframed_task,omitempty"`
		// Response is the final answer for RouteTerminate.
		Response string `json:"response,omitempty"`
		// PayloadIDs lists overflow ids to carry into the final answer.
		PayloadIDs []string `json:"payload_ids,omitempty"`
		// Explanation is the oracle's rationale.
		Explanation string `json:"explanation,omitempty"`
		// Confidence is the oracle's self-reported confidence.
		Confidence float64 `json:"confidence,omitempty"`
	}

	// Selection is a capability invocation chosen by the oracle.
	Selection struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}
)

// ParseRoute decodes and validates a KindRoute reply.
func ParseRoute(raw string) (Route, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return Route{}, err
	}
	obj, ok := Unwrap(obj, "type")
	if !ok {
		return Route{}, missing("type")
	}
	typ := strings.ToLower(strings.TrimSpace(String(obj, "type")))
	kind, ok := routeAliases[typ]
	if !ok {
		return Route{}, invalid("unknown route type %q", typ)
	}
	r := Route{
		Kind:         kind,
		Name:         strings.TrimSpace(String(obj, "name")),
		ReframedTask: strings.TrimSpace(String(obj, "reframed_task")),
		PayloadIDs:   Strings(obj, "payload_ids"),
		Explanation:  String(obj, "explanation"),
		Confidence:   confidence(obj["confidence"]),
	}
	switch resp := obj["response"].(type) {
	case map[string]any:
		r.PayloadIDs = append(r.PayloadIDs, Strings(resp, "payload_ids")...)
		for _, k := range []string{"response", "text", "content"} {
			if s := String(resp, k); s != "" {
				r.Response = s
				break
			}
		}
	default:
		r.Response = stringify(resp)
	}
	switch kind {
	case RouteTool, RouteAgent:
		if r.Name == "" {
			return Route{}, missing("name")
		}
	case RouteTerminate:
		if r.Response == "" && len(r.PayloadIDs) == 0 {
			return Route{}, missing("response")
		}
	}
	return r, nil
}

// ParseSelection decodes and validates a KindSelectTool reply. Nested
// {tool, args} objects inside args are unwrapped and "functions." prefixes
// are stripped from the tool name.
func ParseSelection(raw string) (Selection, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return Selection{}, err
	}
	if inner, ok := Unwrap(obj, "tool"); ok {
		obj = inner
	} else if inner, ok := Unwrap(obj, "name"); ok {
		obj = inner
	} else {
		return Selection{}, missing("tool")
	}
	tool := String(obj, "tool")
	if tool == "" {
		tool = String(obj, "name")
	}
	tool = strings.TrimPrefix(strings.TrimSpace(tool), "functions.")
	if tool == "" {
		return Selection{}, missing("tool")
	}
	args, err := selectionArgs(obj)
	if err != nil {
		return Selection{}, err
	}
	if nested, ok := args["args"].(map[string]any); ok {
		if name, _ := args["tool"].(string); strings.TrimPrefix(name, "functions.") == tool {
			args = nested
		}
	}
	return Selection{Tool: tool, Args: args}, nil
}

func selectionArgs(obj map[string]any) (map[string]any, error) {
	var v any
	if a, ok := obj["args"]; ok {
		v = a
	} else {
		v = obj["arguments"]
	}
	switch a := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return a, nil
	case string:
		if strings.TrimSpace(a) == "" {
			return map[string]any{}, nil
		}
		decoded, err := DecodeObject(a)
		if err != nil {
			return nil, invalid("args is not an object")
		}
		return decoded, nil
	default:
		return nil, invalid("args must be an object, got %T", v)
	}
}

func confidence(v any) float64 {
	switch c := v.(type) {
	case float64:
		return c
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err == nil {
			return f
		}
	}
	return 0
}
