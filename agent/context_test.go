package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testBuilder(t *testing.T) (*ContextBuilder, string) {
	t.Helper()
	ws := t.TempDir()
	b := NewContextBuilder(ws)
	b.now = func() time.Time { return time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC) }
	return b, ws
}

func TestSystemPromptIdentity(t *testing.T) {
	b, ws := testBuilder(t)
	prompt := b.BuildSystemPrompt()

	assert.True(t, strings.HasPrefix(prompt, "# Spark\n"))
	assert.Contains(t, prompt, "## Current Time\n2024-05-06 09:30 (Monday)")
	assert.Contains(t, prompt, "Your workspace is at: "+ws)
	assert.Contains(t, prompt, "## Guidelines")
	assert.NotContains(t, prompt, "---")
}

func TestSystemPromptSections(t *testing.T) {
	b, ws := testBuilder(t)
	writeFile(t, ws, "AGENTS.md", "Be brief.\n")
	writeFile(t, ws, "USER.md", "Name: Sam")
	writeFile(t, ws, "memory/MEMORY.md", "Likes tea.")

	prompt := b.BuildSystemPrompt()
	parts := strings.Split(prompt, "\n\n---\n\n")
	require.Len(t, parts, 3)
	assert.Equal(t, "## AGENTS.md\n\nBe brief.\n\n## USER.md\n\nName: Sam", parts[1])
	assert.Equal(t, "# Memory\n\nLikes tea.", parts[2])
}

func TestBuildMessages(t *testing.T) {
	b, _ := testBuilder(t)
	history := []session.Message{
		{Role: session.RoleUser, Content: "earlier"},
		{Role: session.RoleAssistant, Content: "reply"},
	}
	msgs := b.BuildMessages(history, "now", ModeFunctionCalling, nil)
	require.Len(t, msgs, 4)
	assert.Equal(t, session.RoleSystem, msgs[0].Role)
	assert.Equal(t, history, msgs[1:3])
	assert.Equal(t, session.Message{Role: session.RoleUser, Content: "now"}, msgs[3])
	assert.NotContains(t, msgs[0].Content, "Code Execution Environment")
}

func TestBuildMessagesCodeAct(t *testing.T) {
	b, _ := testBuilder(t)
	specs := []tools.Spec{tools.SpecOf(&echoTool{})}

	msgs := b.BuildMessages(nil, "go", ModeCodeAct, specs)
	require.Len(t, msgs, 2)
	system := msgs[0].Content
	assert.Contains(t, system, "\n\n---\n\n## Code Execution Environment")
	assert.Contains(t, system, "- `echo(text: str)` - Echo the text back.\n")
	assert.Contains(t, system, "<execute>\nresult = read_file(path=\"/etc/hosts\")\nprint(result)\n</execute>")
	assert.Contains(t, system, "Allowed imports: base64, collections, ")
	assert.Contains(t, system, "- No try/except and no classes")
}
