package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/runlog"
)

func TestStoreAppendAndList(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := range 3 {
		err := s.Append(ctx, &runlog.Event{
			RunID:     "run-1",
			AgentID:   "coder",
			Seq:       i + 1,
			Kind:      history.KindAgent,
			Content:   `{"tool":"ls"}`,
			Timestamp: time.Unix(int64(i+1), 0).UTC(),
		})
		require.NoError(t, err)
	}

	page1, err := s.List(ctx, "run-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	require.Equal(t, "1", page1.Events[0].ID)
	require.Equal(t, "2", page1.Events[1].ID)
	require.Equal(t, "2", page1.NextCursor)

	page2, err := s.List(ctx, "run-1", page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Events, 1)
	require.Equal(t, "3", page2.Events[0].ID)
	require.Equal(t, 3, page2.Events[0].Seq)
	require.Empty(t, page2.NextCursor)

	empty, err := s.List(ctx, "run-2", "", 2)
	require.NoError(t, err)
	require.Empty(t, empty.Events)
}

func TestStoreListValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.List(ctx, "", "", 10)
	require.Error(t, err)

	_, err = s.List(ctx, "run-1", "", 0)
	require.Error(t, err)

	_, err = s.List(ctx, "run-1", "not-an-int", 10)
	require.Error(t, err)

	require.Error(t, s.Append(ctx, nil))
	require.Error(t, s.Append(ctx, &runlog.Event{}))
}

func TestMirrorRecordsHistory(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	log := history.New()
	cancel := log.Observe(runlog.Mirror(ctx, s, "run-9", "coder", nil))
	defer cancel()

	_, err := log.Append(history.KindUser, "list files")
	require.NoError(t, err)
	_, err = log.Append(history.KindAgent, `{"tool":"ls"}`)
	require.NoError(t, err)

	events, err := runlog.All(ctx, s, "run-9", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, history.KindUser, events[0].Kind)
	require.Equal(t, "list files", events[0].Content)
	require.Equal(t, 2, events[1].Seq)
	require.Equal(t, 1, s.Runs())
}
