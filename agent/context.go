package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/spark/codeact"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

// BootstrapFiles are read from the workspace root into the system prompt.
var BootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md"}

const (
	memoryFile       = "memory/MEMORY.md"
	sectionSeparator = "\n\n---\n\n"
)

// ContextBuilder assembles the system prompt and the message list for a turn.
type ContextBuilder struct {
	workspace string
	now       func() time.Time
}

func NewContextBuilder(workspace string) *ContextBuilder {
	return &ContextBuilder{workspace: workspace, now: time.Now}
}

// BuildSystemPrompt joins identity, bootstrap files and memory.
func (b *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{b.identity()}
	if boot := b.bootstrap(); boot != "" {
		parts = append(parts, boot)
	}
	if mem := b.readFile(memoryFile); mem != "" {
		parts = append(parts, "# Memory\n\n"+mem)
	}
	return strings.Join(parts, sectionSeparator)
}

// BuildMessages returns system prompt, history and the new user message.
// In code-act mode the prompt also explains the execution environment.
func (b *ContextBuilder) BuildMessages(history []session.Message, content string, mode ExecutionMode, specs []tools.Spec) []session.Message {
	system := b.BuildSystemPrompt()
	if mode == ModeCodeAct {
		system += sectionSeparator + CodeActInstructions(specs)
	}
	msgs := make([]session.Message, 0, len(history)+2)
	msgs = append(msgs, session.Message{Role: session.RoleSystem, Content: system})
	msgs = append(msgs, history...)
	return append(msgs, session.Message{Role: session.RoleUser, Content: content})
}

func (b *ContextBuilder) identity() string {
	ws, err := filepath.Abs(b.workspace)
	if err != nil {
		ws = b.workspace
	}
	return fmt.Sprintf(`# Spark

You are Spark, a helpful AI assistant. You have access to tools that allow you to:
- Read, write, and edit files
- Execute shell commands
- Search the web and fetch web pages

## Current Time
%s

## Workspace
Your workspace is at: %s

## Guidelines
- Be helpful, accurate, and concise
- When using tools, explain what you're doing
- Ask for clarification when the request is ambiguous
- For normal conversation, just respond with text`, b.now().Format("2006-01-02 15:04 (Monday)"), ws)
}

func (b *ContextBuilder) bootstrap() string {
	var parts []string
	for _, name := range BootstrapFiles {
		if content := b.readFile(name); content != "" {
			parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, content))
		}
	}
	return strings.Join(parts, "\n\n")
}

// readFile returns the trimmed file content, or "" when it is missing.
func (b *ContextBuilder) readFile(rel string) string {
	if b.workspace == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(b.workspace, rel))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// CodeActInstructions describes the code execution environment and the
// functions available in it.
func CodeActInstructions(specs []tools.Spec) string {
	var sb strings.Builder
	sb.WriteString("## Code Execution Environment\n\n")
	sb.WriteString("You can execute Python code to accomplish tasks. The following functions are available:\n\n")
	for _, s := range specs {
		fmt.Fprintf(&sb, "- `%s` - %s\n", tools.FormatSignature(s), s.Description)
	}
	sb.WriteString(`
### How to use

Wrap code to execute in <execute> tags:

<execute>
result = read_file(path="/etc/hosts")
print(result)
</execute>

You can reason before acting with <thought> tags:

<thought>I need to check the file first.</thought>

After each execution you receive the output in an [Observation] block.

### Rules

- Call functions with keyword arguments
- Use print() to see results; only printed output is returned
- Variables and functions persist between executions
- When you are done, give your final answer as plain text without any tags
- You can use loops, conditionals and helper functions to combine tool calls
- No try/except and no classes: check values before using them, and raise ValueError(...) to stop
- Allowed imports: `)
	sb.WriteString(strings.Join(codeact.AllowedImports, ", "))
	return sb.String()
}
