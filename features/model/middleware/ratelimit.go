// Package middleware provides model.Client middlewares such as adaptive rate
// limiting.
package middleware

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/taskloop/runtime/agent/model"
)

type (
	// AdaptiveRateLimiter applies an AIMD token bucket in front of a
	// model.Client. It estimates the token cost of each request, blocks
	// callers until capacity is available, halves its tokens-per-minute
	// budget when the provider reports rate limiting, and recovers
	// linearly on success.
	//
	// The limiter is process-local; build one per provider and wrap the
	// client with Middleware.
	AdaptiveRateLimiter struct {
		mu      sync.Mutex
		limiter *rate.Limiter

		current  float64
		min      float64
		max      float64
		recovery float64
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}
)

// NewAdaptiveRateLimiter returns a limiter starting at initialTPM tokens per
// minute and never exceeding maxTPM. A non-positive initialTPM defaults to
// 60000; maxTPM below initialTPM is clamped to it.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	return &AdaptiveRateLimiter{
		limiter:  rate.NewLimiter(rate.Limit(initialTPM/60), int(initialTPM)),
		current:  initialTPM,
		min:      max(initialTPM*0.1, 1),
		max:      maxTPM,
		recovery: max(initialTPM*0.05, 1),
	}
}

// Middleware returns a model.Middleware enforcing the limit.
func (l *AdaptiveRateLimiter) Middleware() model.Middleware {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// TPM returns the current tokens-per-minute budget.
func (l *AdaptiveRateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	l.mu.Lock()
	n := min(EstimateTokens(req), int(l.current))
	l.mu.Unlock()
	return l.limiter.WaitN(ctx, n)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	switch {
	case err == nil:
		l.set(l.TPM() + l.recovery)
	case errors.Is(err, model.ErrRateLimited):
		l.set(l.TPM() * 0.5)
	}
}

func (l *AdaptiveRateLimiter) set(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tpm = min(max(tpm, l.min), l.max)
	if tpm == l.current {
		return
	}
	l.current = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60))
	l.limiter.SetBurst(int(tpm))
}

// EstimateTokens approximates the token cost of req: one token per three
// characters of prompt plus a 500 token allowance for the completion.
func EstimateTokens(req model.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Text)
	}
	if chars <= 0 {
		return 500
	}
	return max(chars/3, 1) + 500
}
