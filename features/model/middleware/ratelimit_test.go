package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskloop/runtime/agent/model"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(context.Context, model.Request) (model.Response, error) {
	s.calls++
	if len(s.errs) == 0 {
		return model.Response{Text: "ok"}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return model.Response{}, err
}

func TestBackoffAndRecovery(t *testing.T) {
	l := NewAdaptiveRateLimiter(60000, 120000)
	next := &scriptedClient{errs: []error{fmt.Errorf("provider: %w", model.ErrRateLimited)}}
	c := l.Middleware()(next)

	_, err := c.Complete(context.Background(), model.UserText("", "hi"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	assert.InDelta(t, 30000, l.TPM(), 0.001)

	_, err = c.Complete(context.Background(), model.UserText("", "hi"))
	require.NoError(t, err)
	assert.InDelta(t, 33000, l.TPM(), 0.001)
	assert.Equal(t, 2, next.calls)
}

func TestBudgetIsBounded(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 0)
	for range 10 {
		l.observe(model.ErrRateLimited)
	}
	assert.InDelta(t, 100, l.TPM(), 0.001)
	for range 100 {
		l.observe(nil)
	}
	assert.InDelta(t, 1000, l.TPM(), 0.001)
}

func TestOtherErrorsDoNotChangeBudget(t *testing.T) {
	l := NewAdaptiveRateLimiter(1000, 2000)
	l.observe(errors.New("bad request"))
	assert.InDelta(t, 1000, l.TPM(), 0.001)
}

func TestWaitHonorsContext(t *testing.T) {
	l := NewAdaptiveRateLimiter(600, 600)
	c := l.Middleware()(&scriptedClient{})
	big := model.UserText("", strings.Repeat("x", 3000))

	_, err := c.Complete(context.Background(), big)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, big)
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 500, EstimateTokens(model.Request{}))
	assert.Equal(t, 502, EstimateTokens(model.UserText("abc", "def")))
	assert.Nil(t, NewAdaptiveRateLimiter(1, 1).Middleware()(nil))
}
