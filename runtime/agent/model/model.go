// Package model provides a provider-agnostic abstraction over chat completion
// APIs (OpenAI, Anthropic, Bedrock) so the LLM-backed oracle can invoke models
// without coupling to specific SDKs. Provider adapters live under
// features/model.
package model

import (
	"context"
	"errors"
)

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrRateLimited is wrapped by provider adapters when the provider throttles
// a request. Rate-limiting middleware reacts to it.
var ErrRateLimited = errors.New("model: rate limited")

type (
	// Client invokes a model. Implementations must be safe for concurrent use.
	Client interface {
		// Complete sends a request and returns the generated response.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// ClientFunc adapts a function to Client.
	ClientFunc func(ctx context.Context, req Request) (Response, error)

	// Middleware wraps a Client.
	Middleware func(Client) Client

	// Role is a conversation role.
	Role string

	// Request holds the normalized parameters of a model invocation.
	Request struct {
		// Model is the provider model identifier. Empty selects the
		// adapter's default model.
		Model string
		// System is the system prompt.
		System string
		// Messages is the ordered conversation.
		Messages []Message
		// Temperature is the sampling temperature. Zero uses the adapter
		// default.
		Temperature float32
		// MaxTokens caps completion tokens. Zero uses the adapter default.
		MaxTokens int
		// JSON requests a JSON object reply when the provider supports a
		// structured response mode. Providers without one rely on the prompt.
		JSON bool
	}

	// Message is a single text message.
	Message struct {
		Role Role
		Text string
	}

	// Response is the generated reply.
	Response struct {
		// Text is the concatenated assistant text.
		Text string
		// Usage reports token usage when the provider returns it.
		Usage TokenUsage
		// StopReason is the provider-specific stop reason.
		StopReason string
	}

	// TokenUsage reports token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Chain applies middlewares to c so that the first middleware is the
// outermost.
func Chain(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			c = mws[i](c)
		}
	}
	return c
}

// UserText returns a request with a single user message.
func UserText(system, text string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Text: text}}}
}
