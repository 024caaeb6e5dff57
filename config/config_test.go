package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m4xw311/spark/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, DirName, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "function_calling", cfg.ExecutionMode)
	assert.Equal(t, "auto", cfg.ApprovalMode)
	assert.Equal(t, 20, cfg.MaxIterations)
	assert.Equal(t, 50, cfg.HistorySize)
	assert.Equal(t, 30*time.Second, cfg.CodeAct.Timeout)
	assert.Equal(t, 4000, cfg.CodeAct.MaxOutput)
	assert.Equal(t, 60*time.Second, cfg.Tools.ShellTimeout)
	assert.Contains(t, cfg.FilesystemAccess.Hidden, ".spark")
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigProjectOverridesUser(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BRAVE_API_KEY", "")
	t.Setenv("SPARK_LLM", "")
	t.Setenv("SPARK_MODEL", "")
	t.Setenv("SPARK_LOG_LEVEL", "")

	writeConfig(t, home, "llm: openai\nmodel: gpt-4o\nmax_iterations: 7\n")
	writeConfig(t, project, "model: gpt-4o-mini\nexecution_mode: code_act\n")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(project))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLMClient)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "code_act", cfg.ExecutionMode)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, 50, cfg.HistorySize)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "llm: anthropic\n")
	t.Setenv("SPARK_MODEL", "claude-test")
	t.Setenv("BRAVE_API_KEY", "brave-key")
	t.Setenv("SPARK_LLM", "")
	t.Setenv("SPARK_LOG_LEVEL", "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-test", cfg.Model)
	assert.Equal(t, "brave-key", cfg.Tools.WebSearch.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		mode   bool
	}{
		{"bad execution mode", func(c *Config) { c.ExecutionMode = "magic" }, true},
		{"bad approval mode", func(c *Config) { c.ApprovalMode = "never" }, true},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, false},
		{"negative history", func(c *Config) { c.HistorySize = -1 }, false},
		{"zero output", func(c *Config) { c.CodeAct.MaxOutput = 0 }, false},
		{"unknown backend", func(c *Config) { c.Session.Backend = "redis" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.mode, errors.Is(err, errors.ErrInvalidMode))
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := Default()
	cfg.Model = "gpt-4o"
	cfg.CodeAct.Timeout = 5 * time.Second
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", loaded.Model)
	assert.Equal(t, 5*time.Second, loaded.CodeAct.Timeout)
}

func TestGetToolset(t *testing.T) {
	cfg := Default()
	ts, err := cfg.GetToolset("")
	require.NoError(t, err)
	assert.Nil(t, ts, "no toolsets configured means all tools")

	cfg.Toolsets = []Toolset{{Name: "default", Tools: []string{"read_file"}}, {Name: "web", Tools: []string{"web_fetch"}}}
	ts, err = cfg.GetToolset("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web_fetch"}, ts.Tools)

	ts, err = cfg.GetToolset("missing")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)

	cfg.Toolsets = []Toolset{{Name: "web"}}
	_, err = cfg.GetToolset("")
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/spark")
	assert.Equal(t, "/home/spark/x", ExpandPath("~/x"))
	assert.Equal(t, "/abs", ExpandPath("/abs"))
}
