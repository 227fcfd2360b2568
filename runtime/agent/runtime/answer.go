package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/taskloop/runtime/agent/executor"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/overflow"
)

// finalAnswerDescription describes final answers recorded by reference.
const finalAnswerDescription = "final answer"

// observation is the union of the environment entry shapes: an executor
// envelope or an overflow reference.
type observation struct {
	Executed    *bool  `json:"executed"`
	Result      any    `json:"result"`
	Error       string `json:"error"`
	Description string `json:"description"`
	OverflowID  string `json:"overflow_id"`
}

func (r *run) record(ctx context.Context, kind history.Kind, content string) {
	if _, err := r.log.Append(kind, content); err != nil {
		r.opts.Logger.Error(ctx, "history append failed", "run_id", r.id, "err", err)
	}
}

func (r *run) recordJSON(ctx context.Context, kind history.Kind, v any) {
	if _, err := r.log.AppendJSON(kind, v); err != nil {
		r.opts.Logger.Error(ctx, "history append failed", "run_id", r.id, "err", err)
	}
}

// recordFailure records a stage failure as a failed observation so later
// turns can see it.
func (r *run) recordFailure(ctx context.Context, stage string, err error) {
	r.opts.Logger.Warn(ctx, "stage failed", "run_id", r.id, "stage", stage, "turn", r.turn, "err", err)
	env := executor.Failure(fmt.Sprintf("%s: %v", stage, err))
	env.Trace = fmt.Sprintf("%+v", err)
	r.recordJSON(ctx, history.KindEnvironment, env)
}

// recordAnswer appends the final answer as the terminal history entry. An
// oversized answer is recorded as a reference instead, reusing ref when the
// answer is already stored.
func (r *run) recordAnswer(ctx context.Context, answer string, ref *history.OverflowRef) {
	if !overflow.Exceeds(answer, r.opts.OverflowThreshold) {
		r.record(ctx, history.KindEnvironment, answer)
		return
	}
	if ref == nil {
		id, err := r.store.Put(ctx, answer)
		if err != nil {
			r.opts.Logger.Error(ctx, "overflow put failed", "run_id", r.id, "err", err)
			r.record(ctx, history.KindEnvironment, answer)
			return
		}
		ref = &history.OverflowRef{Executed: true, Description: finalAnswerDescription, OverflowID: id}
	}
	r.recordJSON(ctx, history.KindEnvironment, *ref)
}

// lastAnswer derives an answer from the most recent environment or agent
// entry. With successOnly, failed observations and decisions are skipped.
// Externalized results are resolved through the overflow store and their
// reference is returned alongside.
func (r *run) lastAnswer(ctx context.Context, successOnly bool) (string, *history.OverflowRef, bool) {
	entries := r.log.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Kind {
		case history.KindAgent:
			if successOnly {
				continue
			}
			return e.Content, nil, true
		case history.KindEnvironment:
			answer, ref, ok := r.decode(ctx, e.Content)
			if !ok && successOnly {
				continue
			}
			return answer, ref, true
		}
	}
	return "", nil, false
}

// decode renders an environment entry as an answer and reports whether it
// is a successful observation. A resolved reference is returned with it.
func (r *run) decode(ctx context.Context, content string) (string, *history.OverflowRef, bool) {
	var obs observation
	if err := json.Unmarshal([]byte(content), &obs); err != nil || obs.Executed == nil {
		return content, nil, true
	}
	switch {
	case obs.OverflowID != "":
		v, err := r.store.Get(ctx, obs.OverflowID)
		if err != nil {
			r.opts.Logger.Warn(ctx, "cannot resolve overflow id", "run_id", r.id, "overflow_id", obs.OverflowID, "err", err)
			return content, nil, false
		}
		ref := &history.OverflowRef{Executed: true, Description: obs.Description, OverflowID: obs.OverflowID}
		return stringify(v), ref, true
	case *obs.Executed:
		return stringify(obs.Result), nil, true
	case obs.Error != "":
		return obs.Error, nil, false
	}
	return content, nil, false
}

// stringify renders v as an answer: strings verbatim, anything else as JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
