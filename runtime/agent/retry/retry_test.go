package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	var calls []int
	err := Do(context.Background(), Policy{Attempts: 3}, func(_ context.Context, attempt int) error {
		calls = append(calls, attempt)
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestDoExhausted(t *testing.T) {
	boom := errors.New("boom")
	var retried []int
	err := Do(context.Background(), Policy{Attempts: 2, OnRetry: func(a int, _ error) { retried = append(retried, a) }},
		func(context.Context, int) error { return boom })

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 2, ex.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, retried)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5}, func(context.Context, int) error {
		calls++
		return Permanent(boom)
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsRetryablePredicate(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Retryable: func(error) bool { return false }},
		func(context.Context, int) error {
			calls++
			return errors.New("nope")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, Policy{Attempts: 3, InitialBackoff: time.Hour}, func(context.Context, int) error {
		cancel()
		return errors.New("flaky")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffCapped(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, Multiplier: 10, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 5*time.Second, p.backoff(3))
	assert.Zero(t, Policy{}.backoff(4))
}

func TestAttemptBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("never exceeds the attempt budget", prop.ForAll(
		func(attempts int) bool {
			calls := 0
			_ = Do(context.Background(), Policy{Attempts: attempts}, func(context.Context, int) error {
				calls++
				return errors.New("always")
			})
			want := attempts
			if want < 1 {
				want = DefaultAttempts
			}
			return calls == want
		},
		gen.IntRange(-2, 10),
	))

	properties.TestingRun(t)
}
