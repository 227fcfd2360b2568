package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"goa.design/taskloop/runtime/agent/retry"
	"goa.design/taskloop/runtime/agent/telemetry"
)

type (
	// Client issues typed requests to an Oracle. Every request is retried
	// up to the attempt budget when the oracle fails or its reply violates
	// the contract; a violation that persists yields a *ContractError.
	Client struct {
		oracle  Oracle
		policy  retry.Policy
		logger  telemetry.Logger
		tracer  telemetry.Tracer
		metrics telemetry.Metrics
	}

	// ClientOption configures a Client.
	ClientOption func(*Client)
)

// WithAttempts sets the attempt budget per request. Values below 1 keep
// retry.DefaultAttempts.
func WithAttempts(n int) ClientOption {
	return func(c *Client) { c.policy.Attempts = n }
}

// WithRetryPolicy replaces the retry policy. OnRetry is managed by the
// client and is overwritten.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) ClientOption {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient wraps o.
func NewClient(o Oracle, opts ...ClientOption) *Client {
	c := &Client{
		oracle:  o,
		policy:  retry.Policy{Attempts: retry.DefaultAttempts},
		logger:  telemetry.NewNoopLogger(),
		tracer:  telemetry.NewNoopTracer(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Route asks the oracle for the turn decision.
func (c *Client) Route(ctx context.Context, in RouteInput) (Route, error) {
	var r Route
	err := c.Ask(ctx, Request{Kind: KindRoute, Input: in}, func(raw string) error {
		var err error
		r, err = ParseRoute(raw)
		return err
	})
	return r, err
}

// SelectTool asks the oracle to pick a capability and its arguments.
func (c *Client) SelectTool(ctx context.Context, in SelectInput) (Selection, error) {
	var s Selection
	err := c.Ask(ctx, Request{Kind: KindSelectTool, Input: in}, func(raw string) error {
		var err error
		s, err = ParseSelection(raw)
		return err
	})
	return s, err
}

// Plan asks for a plan. The reply must hold a "plan" field, possibly one
// level down.
func (c *Client) Plan(ctx context.Context, in PlanInput) (map[string]any, error) {
	return c.Object(ctx, Request{Kind: KindPlan, Input: in}, []string{"plan"}, nil)
}

// Context asks for a turn context. The reply must hold a "context" field and
// pass validate, which typically rejects fabricated overflow ids.
func (c *Client) Context(ctx context.Context, in ContextInput, validate func(map[string]any) error) (map[string]any, error) {
	return c.Object(ctx, Request{Kind: KindContext, Input: in}, []string{"context"}, validate)
}

// Feedback asks for an outcome classification. The reply must hold a
// "status" field and pass validate.
func (c *Client) Feedback(ctx context.Context, in FeedbackInput, validate func(map[string]any) error) (map[string]any, error) {
	return c.Object(ctx, Request{Kind: KindFeedback, Input: in}, []string{"status"}, validate)
}

// Goals asks for goals. The reply may be any JSON value accepted by
// validate.
func (c *Client) Goals(ctx context.Context, in GoalsInput, validate func(any) error) (any, error) {
	var out any
	err := c.Ask(ctx, Request{Kind: KindGoals, Input: in}, func(raw string) error {
		v, err := DecodeJSON(raw)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(v); err != nil {
				return err
			}
		}
		out = v
		return nil
	})
	return out, err
}

// DescribePayload asks for a short description of an externalized result.
func (c *Client) DescribePayload(ctx context.Context, in DescribeInput) (string, error) {
	obj, err := c.Object(ctx, Request{Kind: KindDescribePayload, Input: in}, []string{"description"}, func(o map[string]any) error {
		if String(o, "description") == "" {
			return missing("description")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return String(obj, "description"), nil
}

// Generate asks for prose. The reply is returned trimmed and must not be
// empty.
func (c *Client) Generate(ctx context.Context, in GenerateInput) (string, error) {
	var out string
	err := c.Ask(ctx, Request{Kind: KindGenerate, Input: in}, func(raw string) error {
		out = strings.TrimSpace(raw)
		if out == "" {
			return fmt.Errorf("%w: empty reply", ErrMalformed)
		}
		return nil
	})
	return out, err
}

// Object issues req and decodes the reply as an object holding fields,
// searching one level down. validate, when set, may reject the object.
func (c *Client) Object(ctx context.Context, req Request, fields []string, validate func(map[string]any) error) (map[string]any, error) {
	var out map[string]any
	err := c.Ask(ctx, req, func(raw string) error {
		obj, err := DecodeObject(raw)
		if err != nil {
			return err
		}
		found, ok := Unwrap(obj, fields...)
		if !ok {
			return missing(strings.Join(fields, ", "))
		}
		if validate != nil {
			if err := validate(found); err != nil {
				return err
			}
		}
		out = found
		return nil
	})
	return out, err
}

// Ask issues req and passes each reply to accept until accept succeeds or
// the attempt budget is spent. Oracle failures and rejected replies consume
// attempts alike. Context cancellation is returned as-is.
func (c *Client) Ask(ctx context.Context, req Request, accept func(raw string) error) error {
	ctx, span := c.tracer.Start(ctx, "oracle."+string(req.Kind))
	defer span.End()

	p := c.policy
	p.OnRetry = func(attempt int, err error) {
		c.logger.Warn(ctx, "oracle reply rejected, retrying", "kind", string(req.Kind), "attempt", attempt, "err", err)
		c.metrics.IncCounter("oracle.retries", 1, "kind", string(req.Kind))
	}
	attempts := 0
	err := retry.Do(ctx, p, func(ctx context.Context, _ int) error {
		attempts++
		raw, err := c.oracle.Ask(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return fmt.Errorf("oracle request failed: %w", err)
		}
		return accept(raw)
	})
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "canceled")
		return err
	}
	cause := err
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		cause = ex.Last
	}
	cerr := &ContractError{Kind: req.Kind, Attempts: attempts, Cause: cause}
	c.metrics.IncCounter("oracle.contract_violations", 1, "kind", string(req.Kind))
	c.logger.Error(ctx, "oracle contract violated", "kind", string(req.Kind), "attempts", attempts, "err", cerr)
	span.RecordError(cerr)
	span.SetStatus(codes.Error, "contract violated")
	return cerr
}
