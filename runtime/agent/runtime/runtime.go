// Package runtime implements the turn-based orchestration loop of a task
// agent. Each turn builds a turn context from the history, asks the oracle
// to route, then invokes a capability, delegates to a peer agent, or
// terminates with an answer. Outcomes are appended to the history and
// assessed before the next turn.
//
// A run is strictly sequential: one action per turn, and every step's
// result is recorded before the next step starts. Delegation runs the peer
// agent to completion inside the caller's turn, against the caller's shared
// history and overflow store.
//
//	a, err := runtime.New(card, oracle, reg, runtime.WithMaxIterations(20))
//	if err != nil {
//		return err
//	}
//	res, err := a.Run(ctx, "list the project files")
package runtime

import (
	"context"
	"errors"
	"sync"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/executor"
	"goa.design/taskloop/runtime/agent/goals"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/oracle"
	"goa.design/taskloop/runtime/agent/overflow"
	"goa.design/taskloop/runtime/agent/overflow/inmem"
	"goa.design/taskloop/runtime/agent/plan"
	"goa.design/taskloop/runtime/agent/registry"
	"goa.design/taskloop/runtime/agent/runlog"
	"goa.design/taskloop/runtime/agent/telemetry"
	"goa.design/taskloop/runtime/agent/tools"
)

// DefaultMaxIterations bounds the number of turns of a run.
const DefaultMaxIterations = 50

// Stop reasons.
const (
	// StopTerminated means the oracle routed to terminate.
	StopTerminated StopReason = "terminated"
	// StopTerminalTool means a terminal capability ran successfully.
	StopTerminalTool StopReason = "terminal_tool"
	// StopLoopBreak means the loop breaker refused a repeated selection.
	StopLoopBreak StopReason = "loop_break"
	// StopExhausted means the iteration budget ran out.
	StopExhausted StopReason = "exhausted"
)

var (
	// ErrNoAnswer is returned when a run ends without any observation or
	// decision to derive an answer from.
	ErrNoAnswer = errors.New("runtime: no answer produced")

	// ErrLoopBroken describes the refusal recorded in the history when the
	// loop breaker trips. It is never returned by Run.
	ErrLoopBroken = errors.New("runtime: repeated selection refused")
)

type (
	// StopReason tells why a run ended.
	StopReason string

	// Options configures an Agent.
	Options struct {
		// Executor runs capabilities. Defaults to executor.New with the
		// agent's telemetry.
		Executor *executor.Executor
		// Overflow stores oversized results. Defaults to a fresh in-memory
		// store per Agent.
		Overflow overflow.Store
		// RunLog mirrors every history entry when set.
		RunLog runlog.Store
		// Logger, Tracer and Metrics default to no-op implementations.
		Logger  telemetry.Logger
		Tracer  telemetry.Tracer
		Metrics telemetry.Metrics
		// MaxIterations bounds the number of turns.
		MaxIterations int
		// MaxRepeats bounds selections of one name with an unchanged task.
		MaxRepeats int
		// OverflowThreshold is the serialized word count above which
		// results are externalized.
		OverflowThreshold int
		// OracleAttempts is the attempt budget of every oracle request.
		OracleAttempts int
		// Goals enables goal inference at the start of each run.
		Goals bool
		// ReplanOnFailure revises the plan when feedback reports a failure.
		ReplanOnFailure bool
		// ToolContext is the ambient context injected into capabilities.
		ToolContext tools.Context
	}

	// Option configures an Agent.
	Option func(*Options)

	// RunOption configures a single run.
	RunOption func(*runOptions)

	runOptions struct {
		id    string
		log   *history.Log
		store overflow.Store
	}

	// Agent runs the orchestration loop for one agent card.
	Agent struct {
		card     agent.Card
		oracle   *oracle.Client
		registry *registry.Registry
		opts     Options

		mu   sync.Mutex
		last *history.Log
	}

	// Result is the outcome of a run.
	Result struct {
		// RunID identifies the run in logs, traces, and the run log.
		RunID string
		// Answer is the final answer.
		Answer string
		// History is the run's history. For delegated runs this is the
		// caller's shared log.
		History *history.Log
		// Plan is the last plan built during the run, if any.
		Plan *plan.Plan
		// Goals are the goals inferred for the run, if enabled.
		Goals []goals.Goal
		// Turns is the number of turns started.
		Turns int
		// Stop tells why the run ended.
		Stop StopReason
	}
)

// WithExecutor sets the capability executor.
func WithExecutor(e *executor.Executor) Option { return func(o *Options) { o.Executor = e } }

// WithOverflow sets the overflow store. Delegated runs use their caller's
// store instead.
func WithOverflow(s overflow.Store) Option { return func(o *Options) { o.Overflow = s } }

// WithRunLog mirrors history entries to s.
func WithRunLog(s runlog.Store) Option { return func(o *Options) { o.RunLog = s } }

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option { return func(o *Options) { o.Tracer = t } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(o *Options) { o.Metrics = m } }

// WithMaxIterations bounds the number of turns. Values below 1 keep
// DefaultMaxIterations.
func WithMaxIterations(n int) Option { return func(o *Options) { o.MaxIterations = n } }

// WithMaxRepeats bounds selections of one name with an unchanged task.
// Values below 1 keep DefaultMaxRepeats.
func WithMaxRepeats(n int) Option { return func(o *Options) { o.MaxRepeats = n } }

// WithOverflowThreshold sets the externalization threshold in words.
func WithOverflowThreshold(n int) Option { return func(o *Options) { o.OverflowThreshold = n } }

// WithOracleAttempts sets the attempt budget of every oracle request.
func WithOracleAttempts(n int) Option { return func(o *Options) { o.OracleAttempts = n } }

// WithGoals enables goal inference.
func WithGoals(enabled bool) Option { return func(o *Options) { o.Goals = enabled } }

// WithReplanOnFailure revises the plan whenever feedback reports a failure.
func WithReplanOnFailure(enabled bool) Option {
	return func(o *Options) { o.ReplanOnFailure = enabled }
}

// WithToolContext sets the ambient context injected into capabilities. An
// empty ID is replaced by the run id.
func WithToolContext(tc tools.Context) Option { return func(o *Options) { o.ToolContext = tc } }

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) RunOption { return func(o *runOptions) { o.id = id } }

// WithHistory runs against log instead of a fresh history. This is how
// delegates share their caller's history.
func WithHistory(log *history.Log) RunOption { return func(o *runOptions) { o.log = log } }

// WithOverflowStore runs against s instead of the agent's overflow store.
// Delegates use it so the ids they record in a shared history resolve
// through the caller's store.
func WithOverflowStore(s overflow.Store) RunOption { return func(o *runOptions) { o.store = s } }

// New returns an Agent deciding through o and acting through the
// capabilities and agents of reg.
func New(card agent.Card, o oracle.Oracle, reg *registry.Registry, opts ...Option) (*Agent, error) {
	if card.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if o == nil {
		return nil, errors.New("oracle is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	var options Options
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.Logger == nil {
		options.Logger = telemetry.NewNoopLogger()
	}
	if options.Tracer == nil {
		options.Tracer = telemetry.NewNoopTracer()
	}
	if options.Metrics == nil {
		options.Metrics = telemetry.NewNoopMetrics()
	}
	if options.Executor == nil {
		options.Executor = executor.New(
			executor.WithLogger(options.Logger),
			executor.WithTracer(options.Tracer),
			executor.WithMetrics(options.Metrics),
		)
	}
	if options.Overflow == nil {
		options.Overflow = inmem.New()
	}
	if options.MaxIterations < 1 {
		options.MaxIterations = DefaultMaxIterations
	}
	if options.MaxRepeats < 1 {
		options.MaxRepeats = DefaultMaxRepeats
	}
	if options.OverflowThreshold < 1 {
		options.OverflowThreshold = overflow.DefaultThreshold
	}
	client := oracle.NewClient(o,
		oracle.WithAttempts(options.OracleAttempts),
		oracle.WithLogger(options.Logger),
		oracle.WithTracer(options.Tracer),
		oracle.WithMetrics(options.Metrics),
	)
	return &Agent{card: card, oracle: client, registry: reg, opts: options}, nil
}

// Card returns the agent card.
func (a *Agent) Card() agent.Card { return a.card }

// Run executes task to completion. It returns an error only when the turn
// context cannot be built within the oracle retry budget (as
// *oracle.ContractError), when ctx is canceled between turns, or when the
// run ends with nothing to answer (ErrNoAnswer).
func (a *Agent) Run(ctx context.Context, task string, opts ...RunOption) (*Result, error) {
	var ro runOptions
	for _, o := range opts {
		if o != nil {
			o(&ro)
		}
	}
	if ro.id == "" {
		ro.id = generateRunID(string(a.card.Name))
	}
	if ro.log == nil {
		ro.log = history.New()
	}
	if ro.store == nil {
		ro.store = a.opts.Overflow
	}
	a.mu.Lock()
	a.last = ro.log
	a.mu.Unlock()
	return newRun(a, ro.id, task, ro.log, ro.store).execute(ctx)
}

// RunWith executes task against a caller-provided log.
func (a *Agent) RunWith(ctx context.Context, task string, log *history.Log) (*Result, error) {
	return a.Run(ctx, task, WithHistory(log))
}

// Handle adapts the agent into a delegate for another agent's registry.
func (a *Agent) Handle() agent.Handle { return handle{a} }

// handle implements agent.Handle on top of an Agent.
type handle struct{ a *Agent }

func (h handle) Card() agent.Card { return h.a.card }

func (h handle) Invoke(ctx context.Context, task string, shared agent.Shared) (any, error) {
	res, err := h.a.Run(ctx, task, WithHistory(shared.History), WithOverflowStore(shared.Overflow))
	if err != nil {
		return nil, err
	}
	return res.Answer, nil
}

func (h handle) History() *history.Log {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	return h.a.last
}
