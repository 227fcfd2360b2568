// Package feedback classifies the outcome of the action just taken. Feedback
// is advisory: it informs the next turn's plan and context but never mutates
// history and never ends a run by itself.
package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"goa.design/taskloop/runtime/agent/oracle"
)

// Statuses.
const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusClarification Status = "clarification"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

type (
	// Status is the task status reported by feedback.
	Status string

	// Feedback is the assessment of one turn.
	Feedback struct {
		ID        string `json:"id"`
		Task      string `json:"task"`
		Status    Status `json:"status"`
		Reasoning string `json:"reasoning"`
	}

	// Assessor produces feedback through the oracle. All feedback issued by
	// one Assessor shares its ID.
	Assessor struct {
		client *oracle.Client
		id     string
	}
)

// ParseStatus normalizes s into a Status. Case, spaces, and hyphens are
// tolerated ("In Progress" is StatusInProgress).
func ParseStatus(s string) (Status, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch st := Status(norm); st {
	case StatusPending, StatusInProgress, StatusClarification, StatusCompleted, StatusFailed:
		return st, true
	}
	return "", false
}

// Done reports whether the status is final.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NewAssessor returns an Assessor backed by c.
func NewAssessor(c *oracle.Client) *Assessor {
	return &Assessor{client: c, id: uuid.NewString()}
}

// ID returns the assessor's feedback id.
func (a *Assessor) ID() string { return a.id }

// Assess classifies the outcome of action. Replies with an unknown status
// are contract violations and are retried.
func (a *Assessor) Assess(ctx context.Context, task string, action, observation any) (*Feedback, error) {
	var status Status
	obj, err := a.client.Feedback(ctx, oracle.FeedbackInput{
		Task:        task,
		Action:      action,
		Observation: observation,
	}, func(o map[string]any) error {
		st, ok := ParseStatus(oracle.String(o, "status"))
		if !ok {
			return fmt.Errorf("%w: unknown feedback status %q", oracle.ErrInvalidValue, oracle.String(o, "status"))
		}
		status = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Feedback{
		ID:        a.id,
		Task:      task,
		Status:    status,
		Reasoning: oracle.String(obj, "reasoning"),
	}, nil
}
