package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const memoryConfig = `
model:
  provider: bedrock
  model: anthropic.claude-3-haiku
log:
  format: json
`

func TestCheckWithInMemoryBackends(t *testing.T) {
	out, err := execute(t, "", "check", "--config", writeConfig(t, memoryConfig))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "", "check", "--config", writeConfig(t, "model:\n  provider: nope\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.provider")
}

func TestRunRequiresTask(t *testing.T) {
	_, err := execute(t, "  \n", "run", "--config", writeConfig(t, memoryConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provide a task")
}

func TestRunLogRequiresDurableBackend(t *testing.T) {
	_, err := execute(t, "", "runlog", "--config", writeConfig(t, memoryConfig), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not outlive a run")
}
