// Package llm implements the reasoning oracle on top of a model.Client.
// Each request kind renders its own prompt template; every kind except
// generate asks the model for a JSON object reply.
package llm

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"goa.design/taskloop/runtime/agent/model"
	"goa.design/taskloop/runtime/agent/oracle"
	"goa.design/taskloop/runtime/agent/telemetry"
)

// DefaultPersona is used when no persona is configured.
const DefaultPersona = "You are an assistant that completes tasks by choosing tools and delegating to agents."

//go:embed prompts/*.tmpl
var promptFS embed.FS

var kinds = []oracle.Kind{
	oracle.KindRoute,
	oracle.KindSelectTool,
	oracle.KindPlan,
	oracle.KindContext,
	oracle.KindFeedback,
	oracle.KindGoals,
	oracle.KindDescribePayload,
	oracle.KindGenerate,
}

type (
	// Oracle answers oracle requests by prompting a model.
	Oracle struct {
		client      model.Client
		prompts     map[oracle.Kind]*template.Template
		persona     string
		model       string
		maxTokens   int
		temperature float32
		logger      telemetry.Logger
	}

	// Option configures an Oracle.
	Option func(*Oracle)

	promptData struct {
		Persona string
		Input   any
	}
)

// WithPersona sets the persona prepended to routing and answer prompts.
func WithPersona(p string) Option {
	return func(o *Oracle) {
		if p != "" {
			o.persona = p
		}
	}
}

// WithModel overrides the model identifier sent with each request.
func WithModel(id string) Option {
	return func(o *Oracle) { o.model = id }
}

// WithMaxTokens caps completion tokens per request.
func WithMaxTokens(n int) Option {
	return func(o *Oracle) { o.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *Oracle) { o.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Oracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// New returns an Oracle backed by client using the built-in prompts.
func New(client model.Client, opts ...Option) (*Oracle, error) {
	if client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	o := &Oracle{
		client:  client,
		prompts: make(map[oracle.Kind]*template.Template, len(kinds)),
		persona: DefaultPersona,
		logger:  telemetry.NewNoopLogger(),
	}
	for _, k := range kinds {
		t, err := template.New(string(k)).
			Funcs(template.FuncMap{"json": toJSON}).
			ParseFS(promptFS, "prompts/"+string(k)+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", k, err)
		}
		o.prompts[k] = t.Lookup(string(k) + ".tmpl")
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Override replaces the prompt template for kind. The template receives
// .Persona and .Input (the kind's input struct) and may call json.
func (o *Oracle) Override(kind oracle.Kind, text string) error {
	t, err := template.New(string(kind)).Funcs(template.FuncMap{"json": toJSON}).Parse(text)
	if err != nil {
		return fmt.Errorf("parse %s prompt: %w", kind, err)
	}
	o.prompts[kind] = t
	return nil
}

// Ask implements oracle.Oracle.
func (o *Oracle) Ask(ctx context.Context, req oracle.Request) (string, error) {
	prompt, err := o.Render(req)
	if err != nil {
		return "", err
	}
	resp, err := o.client.Complete(ctx, model.Request{
		Model:       o.model,
		Messages:    []model.Message{{Role: model.RoleUser, Text: prompt}},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		JSON:        req.Kind != oracle.KindGenerate,
	})
	if err != nil {
		return "", err
	}
	o.logger.Debug(ctx, "oracle reply",
		"kind", string(req.Kind),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp.Text, nil
}

// Render returns the prompt for req.
func (o *Oracle) Render(req oracle.Request) (string, error) {
	t, ok := o.prompts[req.Kind]
	if !ok || t == nil {
		return "", fmt.Errorf("no prompt for oracle request kind %q", req.Kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, promptData{Persona: o.persona, Input: req.Input}); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", req.Kind, err)
	}
	return buf.String(), nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
