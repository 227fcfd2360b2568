package inmem

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskloop/runtime/agent/overflow"
)

func TestGetUnknownID(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "xyz")
	require.ErrorIs(t, err, overflow.ErrNotFound)
	ok, err := s.Has(context.Background(), "xyz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentPutsYieldDistinctIDs(t *testing.T) {
	s := New()
	ids := make([]string, 50)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Put(context.Background(), i)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()
	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Equal(t, 50, s.Len())
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	ctx := context.Background()
	s := New()

	properties.Property("get returns what put stored", prop.ForAll(
		func(values []string) bool {
			id, err := s.Put(ctx, values)
			if err != nil {
				return false
			}
			got, err := s.Get(ctx, id)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(values, got)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
