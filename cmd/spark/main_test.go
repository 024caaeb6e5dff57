package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/spark/errors"
)

// testConfig writes a config using the mock provider and a private
// workspace and session directory.
func testConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("SPARK_LLM", "")
	t.Setenv("SPARK_MODEL", "")
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`llm: mock
workspace: %s
log:
  level: error
session:
  backend: file
  dir: %s
%s`, filepath.Join(dir, "ws"), filepath.Join(dir, "sessions"), extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func TestAgentOneShot(t *testing.T) {
	cfg := testConfig(t, "")
	out, err := run(t, "", "--config", cfg, "agent", "-m", "hello")
	require.NoError(t, err)
	assert.Equal(t, "I am a mock LLM. You said: 'hello'.\n", out)
}

func TestAgentInteractive(t *testing.T) {
	cfg := testConfig(t, "")
	out, err := run(t, "hi\n/quit\n", "--config", cfg, "agent", "-s", "notes")
	require.NoError(t, err)
	assert.Contains(t, out, "Spark is ready.")
	assert.Contains(t, out, "Spark: I am a mock LLM. You said: 'hi'.")

	out, err = run(t, "", "--config", cfg, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cli:notes")
}

func TestAgentRejectsInvalidMode(t *testing.T) {
	cfg := testConfig(t, "")
	_, err := run(t, "", "--config", cfg, "agent", "--mode", "psychic", "-m", "hi")
	assert.ErrorIs(t, err, errors.ErrInvalidMode)

	_, err = run(t, "", "--config", cfg, "agent", "--tool-verbosity", "loud", "-m", "hi")
	assert.Error(t, err)
}

func TestSessionsListAndDelete(t *testing.T) {
	cfg := testConfig(t, "")

	out, err := run(t, "", "--config", cfg, "sessions", "list")
	require.NoError(t, err)
	assert.Equal(t, "No sessions.\n", out)

	_, err = run(t, "", "--config", cfg, "agent", "-m", "remember me")
	require.NoError(t, err)

	out, err = run(t, "", "--config", cfg, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Regexp(t, `cli:direct\s+2\s`, out)

	out, err = run(t, "", "--config", cfg, "sessions", "delete", "cli:direct")
	require.NoError(t, err)
	assert.Equal(t, "Deleted session cli:direct\n", out)

	out, err = run(t, "", "--config", cfg, "sessions", "list")
	require.NoError(t, err)
	assert.Equal(t, "No sessions.\n", out)
}

func TestConfigInit(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "conf", "config.yaml")

	out, err := run(t, "", "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	assert.DirExists(t, filepath.Join(home, ".spark", "workspace", "memory"))

	_, err = run(t, "", "config", "init", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "", "config", "init", "--path", path, "--force")
	assert.NoError(t, err)

	out, err = run(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "execution_mode: function_calling")
}

func TestConfigShowMasksSecrets(t *testing.T) {
	cfg := testConfig(t, "tools:\n  web_search:\n    api_key: s3cr3t\n")
	out, err := run(t, "", "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "llm: mock")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "s3cr3t")
}
