package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskloop/runtime/agent/executor"
	"goa.design/taskloop/runtime/agent/model"
	"goa.design/taskloop/runtime/agent/registry"
	"goa.design/taskloop/runtime/agent/tools"
)

func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("print('a')"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "b.py"), []byte("print('b')"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o600))
	return root
}

func lookup(t *testing.T, mc model.Client, name string) tools.Capability {
	t.Helper()
	reg, err := registry.New(catalogue(mc))
	require.NoError(t, err)
	c, ok := reg.Lookup(name)
	require.True(t, ok)
	return c
}

func TestListProjectFiles(t *testing.T) {
	root := project(t)
	c := lookup(t, nil, "list_project_files")
	tc := &tools.Context{Properties: map[string]any{"workdir": root}}

	env := executor.New().Execute(context.Background(), c, map[string]any{}, tc)
	require.True(t, env.Executed, env.Error)
	assert.Equal(t, []string{"a.py", "src/b.py"}, env.Result)

	env = executor.New().Execute(context.Background(), c, map[string]any{"dir": "src"}, tc)
	require.True(t, env.Executed, env.Error)
	assert.Equal(t, []string{"src/b.py"}, env.Result)
}

func TestReadProjectFile(t *testing.T) {
	root := project(t)
	c := lookup(t, nil, "read_project_file")
	tc := &tools.Context{Properties: map[string]any{"workdir": root}}

	env := executor.New().Execute(context.Background(), c, map[string]any{"path": "src/b.py"}, tc)
	require.True(t, env.Executed, env.Error)
	assert.Equal(t, "print('b')", env.Result)

	env = executor.New().Execute(context.Background(), c, map[string]any{"path": "../etc/passwd"}, tc)
	assert.False(t, env.Executed)
	assert.Contains(t, env.Error, "outside the project")

	env = executor.New().Execute(context.Background(), c, map[string]any{}, tc)
	assert.False(t, env.Executed)
}

func TestGenerateContent(t *testing.T) {
	var got model.Request
	mc := model.ClientFunc(func(_ context.Context, req model.Request) (model.Response, error) {
		got = req
		return model.Response{Text: "  A short summary.\n"}, nil
	})
	c := lookup(t, mc, "generate_content")
	env := executor.New().Execute(context.Background(), c, map[string]any{"prompt": "summarize"}, nil)
	require.True(t, env.Executed, env.Error)
	assert.Equal(t, "A short summary.", env.Result)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "summarize", got.Messages[0].Text)

	failing := model.ClientFunc(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, errors.New("provider down")
	})
	env = executor.New().Execute(context.Background(), lookup(t, failing, "generate_content"), map[string]any{"prompt": "x"}, nil)
	assert.False(t, env.Executed)
	assert.Equal(t, "provider down", env.Error)
}

func TestTerminateIsTerminal(t *testing.T) {
	c := lookup(t, nil, "terminate")
	assert.True(t, c.Terminal)
	env := executor.New().Execute(context.Background(), c, map[string]any{"answer": "done"}, nil)
	require.True(t, env.Executed)
	assert.Equal(t, "done", env.Result)
}

func TestReadTask(t *testing.T) {
	task, err := readTask(strings.NewReader("list files\nand summarize\n"))
	require.NoError(t, err)
	assert.Equal(t, "list files\nand summarize", task)
}
