package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/executor"
	"goa.design/taskloop/runtime/agent/feedback"
	"goa.design/taskloop/runtime/agent/goals"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/oracle"
	"goa.design/taskloop/runtime/agent/overflow"
	"goa.design/taskloop/runtime/agent/plan"
	"goa.design/taskloop/runtime/agent/runlog"
	"goa.design/taskloop/runtime/agent/tools"
	"goa.design/taskloop/runtime/agent/turn"
)

type (
	// run holds the state of a single execution of the loop.
	run struct {
		*Agent

		id    string
		task  string
		log   *history.Log
		store overflow.Store
		tc    tools.Context

		plans    *plan.Builder
		turns    *turn.Builder
		assessor *feedback.Assessor
		goalsB   *goals.Builder
		breaker  *loopBreaker

		plan     *plan.Plan
		goals    []goals.Goal
		feedback *feedback.Feedback
		turn     int
	}

	// outcome is the result of a single turn. A nil outcome means the loop
	// continues.
	outcome struct {
		answer string
		stop   StopReason
	}
)

func newRun(a *Agent, id, task string, log *history.Log, store overflow.Store) *run {
	tc := a.opts.ToolContext
	if tc.ID == "" {
		tc.ID = id
	}
	return &run{
		Agent:    a,
		id:       id,
		task:     task,
		log:      log,
		store:    store,
		tc:       tc,
		plans:    plan.NewBuilder(a.oracle),
		turns:    turn.NewBuilder(a.oracle, store),
		assessor: feedback.NewAssessor(a.oracle),
		goalsB:   goals.NewBuilder(a.oracle),
		breaker:  newLoopBreaker(a.opts.MaxRepeats),
	}
}

// execute runs the loop until termination or exhaustion.
func (r *run) execute(ctx context.Context) (*Result, error) {
	ctx, span := r.opts.Tracer.Start(ctx, "taskloop.run",
		trace.WithAttributes(
			attribute.String("taskloop.agent", string(r.card.Name)),
			attribute.String("taskloop.run_id", r.id),
		))
	defer span.End()

	if r.opts.RunLog != nil {
		cancel := r.log.Observe(runlog.Mirror(ctx, r.opts.RunLog, r.id, r.card.Name, func(err error) {
			r.opts.Logger.Warn(ctx, "run log append failed", "run_id", r.id, "err", err)
		}))
		defer cancel()
	}

	r.opts.Logger.Info(ctx, "run started", "agent", string(r.card.Name), "run_id", r.id, "task", r.task)
	r.record(ctx, history.KindUser, r.task)

	r.buildPlan(ctx)
	if r.opts.Goals {
		r.inferGoals(ctx)
	}

	for r.turn < r.opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "canceled")
			return nil, err
		}
		r.turn++
		out, err := r.step(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run failed")
			r.opts.Logger.Error(ctx, "run failed", "run_id", r.id, "turn", r.turn, "err", err)
			return nil, err
		}
		if out != nil {
			span.SetStatus(codes.Ok, "")
			return r.result(ctx, out.answer, out.stop), nil
		}
	}

	r.opts.Logger.Warn(ctx, "iteration budget exhausted", "run_id", r.id, "turns", r.turn)
	answer, _, ok := r.lastAnswer(ctx, false)
	if !ok {
		span.SetStatus(codes.Error, "no answer")
		return nil, ErrNoAnswer
	}
	span.SetStatus(codes.Ok, "")
	return r.result(ctx, answer, StopExhausted), nil
}

// step runs one turn: context, route, act, assess.
func (r *run) step(ctx context.Context) (*outcome, error) {
	ctx, span := r.opts.Tracer.Start(ctx, "taskloop.turn", trace.WithAttributes(attribute.Int("taskloop.turn", r.turn)))
	defer span.End()
	r.opts.Metrics.IncCounter("taskloop.turns", 1, "agent", string(r.card.Name))

	tctx, err := r.turns.Build(ctx, r.task, r.log, r.feedback)
	if err != nil {
		r.recordFailure(ctx, "context", err)
		return nil, err
	}

	route, err := r.oracle.Route(ctx, oracle.RouteInput{
		Task:     r.task,
		Plan:     r.planView(),
		Goals:    r.goalsView(),
		Tools:    oracle.Describe(r.registry.Specs()),
		Agents:   r.registry.Cards(),
		Context:  tctx,
		Feedback: r.feedbackView(),
	})
	if err != nil {
		r.recordFailure(ctx, "route", err)
		return nil, nil
	}
	task := route.ReframedTask
	if task == "" {
		task = r.task
	}
	r.opts.Logger.Info(ctx, "turn routed",
		"run_id", r.id,
		"turn", r.turn,
		"type", string(route.Kind),
		"name", route.Name,
		"confidence", route.Confidence)

	if route.Kind == oracle.RouteTerminate {
		return r.terminate(ctx, route), nil
	}

	// The loop breaker is the single enforcement point for repetition and
	// runs before anything is executed.
	if !r.breaker.Allow(route.Name, task) {
		return r.breakLoop(ctx, route.Name, task), nil
	}

	var (
		decision history.Decision
		obs      any
		terminal bool
	)
	switch route.Kind {
	case oracle.RouteTool:
		decision, obs, terminal = r.invokeTool(ctx, route.Name, task, tctx)
	case oracle.RouteAgent:
		decision, obs = r.delegate(ctx, route.Name, task)
	}

	if terminal {
		if env, ok := obs.(executor.Envelope); ok && env.Executed {
			var ref *history.OverflowRef
			if rec, ok := r.observe(ctx, decision, env).(history.OverflowRef); ok {
				ref = &rec
			}
			answer := stringify(env.Result)
			r.recordAnswer(ctx, answer, ref)
			return &outcome{answer: answer, stop: StopTerminalTool}, nil
		}
	}
	r.assess(ctx, decision, obs)
	return nil, nil
}

// invokeTool selects arguments for the named capability, executes it, and
// records the decision and observation. The envelope of a successful
// terminal capability is returned unrecorded.
func (r *run) invokeTool(ctx context.Context, name, task string, tctx *turn.TurnContext) (history.Decision, any, bool) {
	decision := history.Decision{Tool: name, Task: task}
	c, err := r.registry.Find(name)
	if err != nil {
		r.opts.Logger.Warn(ctx, "unknown capability", "run_id", r.id, "name", name)
		env := executor.Failure(err.Error())
		r.recordJSON(ctx, history.KindAgent, decision)
		r.recordJSON(ctx, history.KindEnvironment, env)
		return decision, env, false
	}

	sel, err := r.oracle.SelectTool(ctx, oracle.SelectInput{
		Task:    task,
		Plan:    r.planView(),
		Tools:   oracle.Describe([]tools.Spec{c.Spec}),
		Context: tctx,
	})
	if err != nil {
		env := executor.Failure(fmt.Sprintf("select arguments for %q: %v", name, err))
		r.recordJSON(ctx, history.KindAgent, decision)
		r.recordJSON(ctx, history.KindEnvironment, env)
		return decision, env, false
	}
	if sel.Tool != "" && sel.Tool != name {
		r.opts.Logger.Warn(ctx, "selection names a different capability", "run_id", r.id, "routed", name, "selected", sel.Tool)
	}
	decision.Args = sel.Args
	r.recordJSON(ctx, history.KindAgent, decision)

	r.opts.Metrics.IncCounter("taskloop.tool_calls", 1, "tool", name)
	env := r.opts.Executor.Execute(ctx, c, sel.Args, &r.tc)
	if c.Terminal && env.Executed {
		return decision, env, true
	}
	return decision, r.observe(ctx, decision, env), false
}

// delegate runs the named peer agent on task against the shared history.
func (r *run) delegate(ctx context.Context, name, task string) (history.Decision, any) {
	decision := history.Decision{Agent: name, Task: task}
	h, err := r.registry.FindAgent(name)
	r.recordJSON(ctx, history.KindAgent, decision)
	if err != nil {
		r.opts.Logger.Warn(ctx, "unknown agent", "run_id", r.id, "name", name)
		env := executor.Failure(err.Error())
		r.recordJSON(ctx, history.KindEnvironment, env)
		return decision, env
	}

	dctx, span := r.opts.Tracer.Start(ctx, "taskloop.delegate", trace.WithAttributes(attribute.String("taskloop.agent", name)))
	res, err := h.Invoke(dctx, task, agent.Shared{History: r.log, Overflow: r.store})
	var env executor.Envelope
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delegate failed")
		env = executor.Failure(fmt.Sprintf("agent %q failed: %v", name, err))
	} else {
		span.SetStatus(codes.Ok, "")
		env = executor.Envelope{Executed: true, Result: res}
	}
	span.End()
	return decision, r.observe(ctx, decision, env)
}

// observe records env, externalizing its result when the envelope is too
// large, and returns what was recorded.
func (r *run) observe(ctx context.Context, decision history.Decision, env executor.Envelope) any {
	if !env.Executed || !overflow.Exceeds(env, r.opts.OverflowThreshold) {
		r.recordJSON(ctx, history.KindEnvironment, env)
		return env
	}
	id, err := r.store.Put(ctx, env.Result)
	if err != nil {
		// The value must stay resolvable, so keep it inline rather than
		// record a dangling reference.
		r.opts.Logger.Error(ctx, "overflow put failed", "run_id", r.id, "err", err)
		r.recordJSON(ctx, history.KindEnvironment, env)
		return env
	}
	r.opts.Metrics.IncCounter("taskloop.overflow_puts", 1, "agent", string(r.card.Name))
	ref := history.OverflowRef{
		Executed:    true,
		Description: r.describe(ctx, decision),
		OverflowID:  id,
	}
	r.opts.Logger.Info(ctx, "result externalized", "run_id", r.id, "overflow_id", id)
	r.recordJSON(ctx, history.KindEnvironment, ref)
	return ref
}

// describe asks the oracle to describe an externalized result, falling back
// to the decision itself.
func (r *run) describe(ctx context.Context, decision history.Decision) string {
	desc, err := r.oracle.DescribePayload(ctx, oracle.DescribeInput{
		Invocation: decision,
		History:    r.log.View(history.DefaultFilter),
	})
	if err == nil {
		return desc
	}
	b, _ := json.Marshal(decision)
	return "result of " + string(b)
}

// terminate produces the final answer for a terminate route.
func (r *run) terminate(ctx context.Context, route oracle.Route) *outcome {
	answer := route.Response
	if len(route.PayloadIDs) > 0 {
		var data []oracle.Payload
		for _, id := range route.PayloadIDs {
			v, err := r.store.Get(ctx, id)
			if err != nil {
				r.opts.Logger.Warn(ctx, "terminate references unknown payload", "run_id", r.id, "overflow_id", id, "err", err)
				continue
			}
			data = append(data, oracle.Payload{ID: id, Value: v})
		}
		if len(data) > 0 {
			text, err := r.oracle.Generate(ctx, oracle.GenerateInput{Task: r.task, Content: route.Response, Data: data})
			switch {
			case err == nil:
				answer = text
			case answer == "":
				answer = stringify(data)
			}
		}
	}
	r.recordAnswer(ctx, answer, nil)
	return &outcome{answer: answer, stop: StopTerminated}
}

// breakLoop forces termination with the last observation when a selection
// repeats beyond the bound.
func (r *run) breakLoop(ctx context.Context, name, task string) *outcome {
	r.opts.Metrics.IncCounter("taskloop.loop_breaks", 1, "name", name)
	r.opts.Logger.Warn(ctx, "loop breaker tripped", "run_id", r.id, "name", name, "task", task)
	answer, ref, ok := r.lastAnswer(ctx, true)
	r.recordJSON(ctx, history.KindEnvironment, executor.Failure(fmt.Sprintf("%v: %q with task %q", ErrLoopBroken, name, task)))
	if !ok {
		answer = fmt.Sprintf("unable to complete %q: repeated %q without progress", r.task, name)
	}
	r.recordAnswer(ctx, answer, ref)
	return &outcome{answer: answer, stop: StopLoopBreak}
}

// assess runs the feedback stage. Failures keep the previous feedback.
func (r *run) assess(ctx context.Context, action history.Decision, obs any) {
	fb, err := r.assessor.Assess(ctx, r.task, action, obs)
	if err != nil {
		r.opts.Logger.Warn(ctx, "feedback unavailable", "run_id", r.id, "turn", r.turn, "err", err)
		return
	}
	r.feedback = fb
	r.opts.Logger.Info(ctx, "turn assessed", "run_id", r.id, "turn", r.turn, "status", string(fb.Status))
	if fb.Status == feedback.StatusFailed && r.opts.ReplanOnFailure {
		r.buildPlan(ctx)
		if r.opts.Goals {
			r.inferGoals(ctx)
		}
	}
}

// buildPlan builds or revises the plan. Failures are recorded and the run
// continues with the previous plan.
func (r *run) buildPlan(ctx context.Context) {
	p, err := r.plans.Build(ctx, plan.Input{
		Task:     r.task,
		History:  r.log.View(history.DefaultFilter),
		Tools:    oracle.Describe(r.registry.Specs()),
		Agents:   r.registry.Cards(),
		Feedback: r.feedback,
	})
	if err != nil {
		r.recordFailure(ctx, "plan", err)
		return
	}
	r.plan = p
}

// inferGoals infers goals. Failures keep the previous goals.
func (r *run) inferGoals(ctx context.Context) {
	var progress any
	if r.feedback != nil {
		progress = r.feedback
	}
	gs, err := r.goalsB.Infer(ctx, goals.Input{
		Task:     r.task,
		Goals:    r.goals,
		History:  r.log.View(history.DefaultFilter),
		Tools:    oracle.Describe(r.registry.Specs()),
		Agents:   r.registry.Cards(),
		Progress: progress,
	})
	if err != nil {
		r.opts.Logger.Warn(ctx, "goal inference failed", "run_id", r.id, "err", err)
		return
	}
	r.goals = gs
}

func (r *run) result(ctx context.Context, answer string, stop StopReason) *Result {
	r.opts.Logger.Info(ctx, "run finished", "run_id", r.id, "turns", r.turn, "stop", string(stop))
	return &Result{
		RunID:   r.id,
		Answer:  answer,
		History: r.log,
		Plan:    r.plan,
		Goals:   r.goals,
		Turns:   r.turn,
		Stop:    stop,
	}
}

// The oracle inputs take any so that absent values are omitted rather than
// encoded as typed nils.

func (r *run) planView() any {
	if r.plan == nil {
		return nil
	}
	return r.plan
}

func (r *run) goalsView() any {
	if len(r.goals) == 0 {
		return nil
	}
	return r.goals
}

func (r *run) feedbackView() any {
	if r.feedback == nil {
		return nil
	}
	return r.feedback
}
