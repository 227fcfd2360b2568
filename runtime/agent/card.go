package agent

import (
	"context"

	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/overflow"
)

type (
	// Card describes an agent to routing. The card is what the reasoning oracle
	// sees when it considers delegating a sub-task to a peer agent.
	Card struct {
		// Name is the unique agent name used as the routing key.
		Name Ident `json:"name" yaml:"name"`
		// Persona is the role the agent plays (e.g., "file system analyst").
		Persona string `json:"persona,omitempty" yaml:"persona"`
		// Description summarizes what the agent is good at.
		Description string `json:"description,omitempty" yaml:"description"`
		// Skills enumerates the agent's advertised abilities.
		Skills []Skill `json:"skills,omitempty" yaml:"skills"`
		// Version is an optional free-form version string.
		Version string `json:"version,omitempty" yaml:"version"`
		// URL optionally locates a remote deployment of the agent.
		URL string `json:"url,omitempty" yaml:"url"`
	}

	// Skill is a single advertised agent ability.
	Skill struct {
		ID          string   `json:"id" yaml:"id"`
		Name        string   `json:"name" yaml:"name"`
		Description string   `json:"description,omitempty" yaml:"description"`
		Tags        []string `json:"tags,omitempty" yaml:"tags"`
		Examples    []string `json:"examples,omitempty" yaml:"examples"`
	}

	// Shared is the state a caller lends to a delegate for one invocation.
	Shared struct {
		// History is the caller's history. The delegate sees everything the
		// caller accumulated and appends its own entries to it.
		History *history.Log
		// Overflow is the caller's overflow store. Ids the delegate records
		// in History must resolve through it.
		Overflow overflow.Store
	}

	// Handle is a delegate agent invocable as a single routing option.
	//
	// Invoke runs the delegate to completion on the given sub-task against
	// the caller's shared state. Invoke returns the delegate's final answer;
	// a non-nil error is reported back to the caller as a failed observation,
	// never as a run failure.
	Handle interface {
		// Card returns the delegate's card.
		Card() Card
		// Invoke runs the delegate on task against the shared state.
		Invoke(ctx context.Context, task string, shared Shared) (any, error)
		// History returns the log of the delegate's most recent run, or nil
		// when it has not run yet.
		History() *history.Log
	}
)
