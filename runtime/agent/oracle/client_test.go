package oracle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskloop/runtime/agent/oracle"
	"goa.design/taskloop/runtime/agent/oracle/oracletest"
)

func TestRouteRetriesMalformedReplies(t *testing.T) {
	script := oracletest.New().
		On(oracle.KindRoute, "not json", `{"type":"tool"}`, `{"type":"tool","name":"list_project_files"}`)
	c := oracle.NewClient(script)

	r, err := c.Route(context.Background(), oracle.RouteInput{Task: "list files"})
	require.NoError(t, err)
	assert.Equal(t, oracle.RouteTool, r.Kind)
	assert.Equal(t, 3, script.Count(oracle.KindRoute))
}

func TestRouteContractErrorAfterBudget(t *testing.T) {
	script := oracletest.New().Always(oracle.KindRoute, "still not json")
	c := oracle.NewClient(script, oracle.WithAttempts(2))

	_, err := c.Route(context.Background(), oracle.RouteInput{Task: "t"})
	var cerr *oracle.ContractError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, oracle.KindRoute, cerr.Kind)
	assert.Equal(t, 2, cerr.Attempts)
	assert.ErrorIs(t, err, oracle.ErrMalformed)
	assert.Equal(t, 2, script.Count(oracle.KindRoute))
}

func TestTransportErrorsAreRetried(t *testing.T) {
	script := oracletest.New().
		OnError(oracle.KindSelectTool, errors.New("connection reset")).
		On(oracle.KindSelectTool, `{"tool":"read_project_file","args":{"name":"a.py"}}`)
	c := oracle.NewClient(script)

	s, err := c.SelectTool(context.Background(), oracle.SelectInput{Task: "read a.py"})
	require.NoError(t, err)
	assert.Equal(t, "read_project_file", s.Tool)
	assert.Equal(t, map[string]any{"name": "a.py"}, s.Args)
}

func TestCanceledContextIsNotAContractViolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	script := oracletest.New().Handle(oracle.KindGenerate, func(ctx context.Context, _ oracle.Request) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	c := oracle.NewClient(script)

	_, err := c.Generate(ctx, oracle.GenerateInput{Task: "t"})
	require.ErrorIs(t, err, context.Canceled)
	var cerr *oracle.ContractError
	assert.False(t, errors.As(err, &cerr))
	assert.Equal(t, 1, script.Count(oracle.KindGenerate))
}

func TestObjectValidatorRejectionIsRetried(t *testing.T) {
	script := oracletest.New().On(oracle.KindContext,
		map[string]any{"context": "c1", "payload_ids": []string{"xyz"}},
		map[string]any{"turn": map[string]any{"context": "c2"}},
	)
	c := oracle.NewClient(script)

	obj, err := c.Context(context.Background(), oracle.ContextInput{Task: "t"}, func(o map[string]any) error {
		if len(oracle.Strings(o, "payload_ids")) > 0 {
			return oracle.ErrInvalidValue
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "c2", obj["context"])
}

func TestDescribePayloadAndGenerate(t *testing.T) {
	script := oracletest.New().
		On(oracle.KindDescribePayload, map[string]any{"description": "list of 300 files"}).
		On(oracle.KindGenerate, "  The files are a.py and b.py.  ")
	c := oracle.NewClient(script)

	d, err := c.DescribePayload(context.Background(), oracle.DescribeInput{Invocation: map[string]any{"tool": "ls"}})
	require.NoError(t, err)
	assert.Equal(t, "list of 300 files", d)

	g, err := c.Generate(context.Background(), oracle.GenerateInput{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, "The files are a.py and b.py.", g)
}

func TestGoalsAcceptsAnyJSON(t *testing.T) {
	script := oracletest.New().On(oracle.KindGoals, `[{"name":"g"}]`)
	c := oracle.NewClient(script)
	v, err := c.Goals(context.Background(), oracle.GoalsInput{Task: "t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "g"}}, v)
}

func TestUnscripted(t *testing.T) {
	c := oracle.NewClient(oracletest.New(), oracle.WithAttempts(1))
	_, err := c.Plan(context.Background(), oracle.PlanInput{Task: "t"})
	assert.ErrorIs(t, err, oracletest.ErrUnscripted)
}
