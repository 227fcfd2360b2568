// Package executor invokes capabilities and normalizes every outcome into a
// result Envelope. Execute never returns an error and never lets a panic
// escape: the envelope, not a Go error, is the unit of failure propagation.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/taskloop/runtime/agent/telemetry"
	"goa.design/taskloop/runtime/agent/toolerrors"
	"goa.design/taskloop/runtime/agent/tools"
)

type (
	// Envelope is the uniform result of a capability execution.
	Envelope struct {
		// Executed is true when the capability returned normally.
		Executed bool `json:"executed"`
		// Result is the capability return value on success.
		Result any `json:"result,omitempty"`
		// Error is the failure message when Executed is false.
		Error string `json:"error,omitempty"`
		// Trace carries diagnostics (panic stack or cause chain) on failure.
		Trace string `json:"trace,omitempty"`
		// Timestamp is the completion time of a successful execution.
		Timestamp time.Time `json:"timestamp,omitzero"`
	}

	// Executor runs capabilities.
	Executor struct {
		validate bool
		schemas  sync.Map // tools.Ident -> *jsonschema.Schema

		logger  telemetry.Logger
		tracer  telemetry.Tracer
		metrics telemetry.Metrics
		now     func() time.Time
	}

	// Option configures an Executor.
	Option func(*Executor)
)

// WithValidation enables validation of arguments against the capability
// schema before invocation. Invalid arguments produce a failed envelope.
func WithValidation(enabled bool) Option {
	return func(e *Executor) { e.validate = enabled }
}

// WithLogger sets the logger. Nil keeps the noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer. Nil keeps the noop tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder. Nil keeps the noop recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New returns an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		validate: true,
		logger:   telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
		metrics:  telemetry.NewNoopMetrics(),
		now:      time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Failure builds a failed envelope for outcomes synthesized outside of a
// capability call, such as an unknown capability name.
func Failure(msg string) Envelope {
	return Envelope{Executed: false, Error: msg}
}

// Execute invokes c with a private copy of args plus the ambient values the
// capability asks for.
func (e *Executor) Execute(ctx context.Context, c tools.Capability, args map[string]any, tc *tools.Context) (env Envelope) {
	ctx, span := e.tracer.Start(ctx, "taskloop.execute",
		trace.WithAttributes(attribute.String("taskloop.tool", c.Name.String())))
	start := e.now()
	defer func() {
		e.metrics.RecordTimer("taskloop.execute.duration", e.now().Sub(start), "tool", c.Name.String())
		if env.Executed {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, env.Error)
		}
		span.End()
	}()

	if c.Invoke == nil {
		return e.fail(ctx, c, toolerrors.Errorf("capability %q has no implementation", c.Name))
	}
	if e.validate {
		if err := e.check(c.Spec, args); err != nil {
			return e.fail(ctx, c, toolerrors.Wrap(fmt.Sprintf("invalid arguments for %q", c.Name), err))
		}
	}
	call := cloneArgs(args)
	for k, v := range c.Inject(tc) {
		call[k] = v
	}
	result, terr := invoke(ctx, c.Invoke, call)
	if terr != nil {
		return e.fail(ctx, c, terr)
	}
	e.logger.Debug(ctx, "capability executed", "tool", c.Name.String())
	return Envelope{Executed: true, Result: result, Timestamp: e.now().UTC()}
}

func (e *Executor) fail(ctx context.Context, c tools.Capability, terr *toolerrors.ToolError) Envelope {
	e.logger.Warn(ctx, "capability failed", "tool", c.Name.String(), "err", terr)
	e.metrics.IncCounter("taskloop.tool_failures", 1, "tool", c.Name.String())
	e.tracer.Span(ctx).RecordError(terr)
	msg := terr.Error()
	if msg == "" {
		msg = "capability failed"
	}
	return Envelope{Executed: false, Error: msg, Trace: terr.Diagnostic()}
}

// invoke calls fn and converts errors and panics into ToolErrors.
func invoke(ctx context.Context, fn tools.Func, args map[string]any) (result any, terr *toolerrors.ToolError) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			terr = toolerrors.FromPanic(r, debug.Stack())
		}
	}()
	out, err := fn(ctx, args)
	if err != nil {
		return nil, toolerrors.FromError(err)
	}
	return out, nil
}

// check validates args against the capability schema. Ambient parameters
// are not part of the schema the oracle fills in.
func (e *Executor) check(spec tools.Spec, args map[string]any) error {
	if spec.Schema == nil {
		return nil
	}
	schema, err := e.compile(spec)
	if err != nil {
		return err
	}
	doc, err := normalize(args)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return schema.Validate(doc)
}

func (e *Executor) compile(spec tools.Spec) (*jsonschema.Schema, error) {
	if s, ok := e.schemas.Load(spec.Name); ok {
		return s.(*jsonschema.Schema), nil
	}
	doc, err := normalize(spec.Schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	url := string(spec.Name) + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	e.schemas.Store(spec.Name, s)
	return s, nil
}

// normalize converts v into the generic shape produced by JSON decoding.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneArgs deep-copies maps and slices so a capability cannot mutate the
// caller's arguments.
func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneArgs(val)
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = cloneValue(x)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
