// Package toolerrors provides the structured failure carried inside capability
// result envelopes. A ToolError keeps the message chain of the original
// failure and, for panics, the captured stack so the orchestrator can record
// diagnostics in history without ever surfacing a Go error.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError is a capability failure. Cause chains preserve nested failures so
// errors.Is/As keep working on the message chain.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Trace carries diagnostic detail such as a recovered panic stack.
	Trace string
	// Cause links to the underlying failure.
	Cause *ToolError
}

// New returns a ToolError with the given message.
func New(message string) *ToolError {
	if message == "" {
		message = "capability failed"
	}
	return &ToolError{Message: message}
}

// Errorf formats a ToolError message.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Wrap returns a ToolError with message that wraps cause. An empty message
// reuses the cause message.
func Wrap(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	te := New(message)
	te.Cause = FromError(cause)
	return te
}

// FromError converts err into a ToolError chain. ToolErrors already present
// in the chain are reused as-is.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// FromPanic converts a recovered panic value into a ToolError carrying stack.
func FromPanic(recovered any, stack []byte) *ToolError {
	te := Errorf("capability panicked: %v", recovered)
	if err, ok := recovered.(error); ok {
		te.Cause = FromError(err)
	}
	te.Trace = string(stack)
	return te
}

// Error implements error.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the cause so errors.Is/As traverse the chain.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Diagnostic returns Trace when set, otherwise the full cause chain joined
// by " <- ".
func (e *ToolError) Diagnostic() string {
	if e == nil {
		return ""
	}
	if e.Trace != "" {
		return e.Trace
	}
	msg := e.Message
	for c := e.Cause; c != nil; c = c.Cause {
		msg += " <- " + c.Message
	}
	return msg
}
