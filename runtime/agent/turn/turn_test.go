package turn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskloop/runtime/agent/feedback"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/oracle"
	"goa.design/taskloop/runtime/agent/oracle/oracletest"
	"goa.design/taskloop/runtime/agent/overflow/inmem"
)

func seeded(t *testing.T) (*history.Log, *inmem.Store, string) {
	t.Helper()
	store := inmem.New()
	id, err := store.Put(context.Background(), []string{"a.py", "b.py"})
	require.NoError(t, err)
	log := history.New()
	_, _ = log.Append(history.KindUser, "list files")
	_, _ = log.AppendJSON(history.KindAgent, history.Decision{Tool: "list_project_files"})
	_, _ = log.AppendJSON(history.KindEnvironment, history.OverflowRef{Executed: true, Description: "files", OverflowID: id})
	return log, store, id
}

func TestBuildInlinesReferencedPayloads(t *testing.T) {
	log, store, id := seeded(t)
	script := oracletest.New().On(oracle.KindContext, map[string]any{
		"context":     "files were listed",
		"comments":    "answer next",
		"payload_ids": []string{id},
	})
	fb := &feedback.Feedback{Status: feedback.StatusInProgress}
	b := NewBuilder(oracle.NewClient(script), store)

	tc, err := b.Build(context.Background(), "list files", log, fb)
	require.NoError(t, err)
	assert.NotEmpty(t, tc.ID)
	assert.Equal(t, "list files", tc.Task)
	assert.Equal(t, "files were listed", tc.Context)
	assert.Equal(t, "answer next", tc.Comments)
	assert.Same(t, fb, tc.Feedback)
	require.Len(t, tc.Data, 1)
	assert.Equal(t, oracle.Payload{ID: id, Value: []string{"a.py", "b.py"}}, tc.Data[0])

	in := script.Calls(oracle.KindContext)[0].Input.(oracle.ContextInput)
	assert.Len(t, in.History, 3)
}

func TestBuildRejectsFabricatedIDThenRecovers(t *testing.T) {
	log, store, _ := seeded(t)
	script := oracletest.New().On(oracle.KindContext,
		map[string]any{"context": "c", "payload_ids": []string{"xyz"}},
		map[string]any{"context": "c"},
	)
	b := NewBuilder(oracle.NewClient(script), store)

	tc, err := b.Build(context.Background(), "list files", log, nil)
	require.NoError(t, err)
	assert.Empty(t, tc.Data)
	assert.Equal(t, 2, script.Count(oracle.KindContext))
}

func TestBuildFailsOnPersistentFabricatedID(t *testing.T) {
	log, store, _ := seeded(t)
	script := oracletest.New().Always(oracle.KindContext, map[string]any{"context": "c", "payload_ids": []string{"xyz"}})
	b := NewBuilder(oracle.NewClient(script), store)

	tc, err := b.Build(context.Background(), "list files", log, nil)
	assert.Nil(t, tc)
	var cerr *oracle.ContractError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, oracle.KindContext, cerr.Kind)
	assert.ErrorIs(t, err, oracle.ErrInvalidValue)
	assert.Equal(t, 3, script.Count(oracle.KindContext))
}

func TestBuildRejectsIDMissingFromStore(t *testing.T) {
	log := history.New()
	_, _ = log.AppendJSON(history.KindEnvironment, history.OverflowRef{Executed: true, OverflowID: "gone"})
	script := oracletest.New().Always(oracle.KindContext, map[string]any{"context": "c", "payload_ids": []string{"gone"}})
	b := NewBuilder(oracle.NewClient(script, oracle.WithAttempts(1)), inmem.New())

	_, err := b.Build(context.Background(), "t", log, nil)
	assert.ErrorIs(t, err, oracle.ErrInvalidValue)
}

func TestReferencedIDs(t *testing.T) {
	entries := []history.Entry{
		{Kind: history.KindEnvironment, Content: `{"executed":true,"overflow_id":"a"}`},
		{Kind: history.KindAgent, Content: `{"overflow_id":"b"}`},
		{Kind: history.KindEnvironment, Content: `not json`},
	}
	assert.Equal(t, map[string]bool{"a": true}, ReferencedIDs(entries))
}
