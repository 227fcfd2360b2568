// Package oracle defines the contract between the orchestration loop and the
// external reasoning oracle that makes each decision.
//
// The oracle is an opaque, possibly non-deterministic function: it receives a
// Request naming the decision to make plus its inputs, and replies with text
// that must satisfy a JSON shape per request kind. Client wraps an Oracle with
// bounded retries, tolerant JSON decoding, and typed results so the rest of
// the runtime never handles raw replies.
package oracle

import (
	"context"
	"unicode/utf8"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/tools"
)

// Request kinds.
const (
	// KindRoute chooses the turn action (RouteInput -> Route).
	KindRoute Kind = "route"
	// KindSelectTool fills in capability arguments (SelectInput -> Selection).
	KindSelectTool Kind = "select_tool"
	// KindPlan builds or revises the advisory plan (PlanInput).
	KindPlan Kind = "plan"
	// KindContext compresses history into a turn context (ContextInput).
	KindContext Kind = "context"
	// KindFeedback classifies the outcome of the last action (FeedbackInput).
	KindFeedback Kind = "feedback"
	// KindGoals infers goals for the task (GoalsInput).
	KindGoals Kind = "goals"
	// KindDescribePayload describes an externalized result (DescribeInput).
	KindDescribePayload Kind = "describe_payload"
	// KindGenerate writes prose from a task and payloads (GenerateInput).
	KindGenerate Kind = "generate"
)

type (
	// Kind names the decision requested from the oracle.
	Kind string

	// Request is a single oracle query. Input holds the kind-specific input
	// struct (RouteInput, SelectInput, ...).
	Request struct {
		Kind  Kind
		Input any
	}

	// Oracle answers requests with raw text. Implementations may fail or
	// reply with malformed text; Client retries both.
	Oracle interface {
		Ask(ctx context.Context, req Request) (string, error)
	}

	// Func adapts a function to Oracle.
	Func func(ctx context.Context, req Request) (string, error)

	// ToolInfo is the oracle-facing description of a capability.
	ToolInfo struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
		Terminal    bool           `json:"terminal,omitempty"`
	}

	// Payload is an overflow value inlined for the oracle.
	Payload struct {
		ID    string `json:"payload_id"`
		Value any    `json:"payload"`
	}

	// RouteInput is the input of KindRoute.
	RouteInput struct {
		Task     string       `json:"task"`
		Plan     any          `json:"plan,omitempty"`
		Goals    any          `json:"goals,omitempty"`
		Tools    []ToolInfo   `json:"tools"`
		Agents   []agent.Card `json:"agents,omitempty"`
		Context  any          `json:"turn_context,omitempty"`
		Feedback any          `json:"feedback,omitempty"`
	}

	// SelectInput is the input of KindSelectTool. Task is the reframed task.
	SelectInput struct {
		Task    string     `json:"task"`
		Plan    any        `json:"plan,omitempty"`
		Tools   []ToolInfo `json:"tools"`
		Context any        `json:"turn_context,omitempty"`
	}

	// PlanInput is the input of KindPlan.
	PlanInput struct {
		Task     string          `json:"task"`
		History  []history.Entry `json:"memory"`
		Tools    []ToolInfo      `json:"tools,omitempty"`
		Agents   []agent.Card    `json:"agents,omitempty"`
		Feedback any             `json:"feedback,omitempty"`
		Previous any             `json:"previous_plan,omitempty"`
	}

	// ContextInput is the input of KindContext. Replies may reference only
	// the overflow ids present in History.
	ContextInput struct {
		Task     string          `json:"task"`
		History  []history.Entry `json:"memory"`
		Feedback any             `json:"feedback,omitempty"`
	}

	// FeedbackInput is the input of KindFeedback.
	FeedbackInput struct {
		Task        string `json:"task"`
		Action      any    `json:"action"`
		Observation any    `json:"observation"`
	}

	// GoalsInput is the input of KindGoals.
	GoalsInput struct {
		Task     string          `json:"task"`
		Goals    any             `json:"goals,omitempty"`
		History  []history.Entry `json:"memory"`
		Tools    []ToolInfo      `json:"tools,omitempty"`
		Agents   []agent.Card    `json:"agents,omitempty"`
		Progress any             `json:"progress_report,omitempty"`
	}

	// DescribeInput is the input of KindDescribePayload.
	DescribeInput struct {
		Invocation any             `json:"invocation"`
		History    []history.Entry `json:"memory"`
	}

	// GenerateInput is the input of KindGenerate.
	GenerateInput struct {
		Task    string    `json:"task"`
		Content string    `json:"content,omitempty"`
		Data    []Payload `json:"data,omitempty"`
	}
)

// Ask implements Oracle.
func (f Func) Ask(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// maxDescription bounds the byte length of a capability description.
const maxDescription = 1024

// Describe converts capability specs into oracle-facing descriptions.
// Descriptions are truncated to 1024 bytes on a rune boundary.
func Describe(specs []tools.Spec) []ToolInfo {
	out := make([]ToolInfo, len(specs))
	for i, s := range specs {
		out[i] = ToolInfo{
			Name:        s.Name.String(),
			Description: truncate(s.Description, maxDescription),
			Parameters:  s.Schema,
			Terminal:    s.Terminal,
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
