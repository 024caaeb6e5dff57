package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/spark/agent"
	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/llm"
	"github.com/m4xw311/spark/logging"
	"github.com/m4xw311/spark/session"
)

func newTestAgent(t *testing.T, client llm.LLMClient, opts ...agent.Option) *agent.Agent {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	opts = append([]agent.Option{agent.WithLogger(logging.Discard())}, opts...)
	a, err := agent.New(cfg, client, nil, session.NewManager(store), opts...)
	require.NoError(t, err)
	return a
}

type frame struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params struct {
		SessionID string         `json:"sessionId"`
		Update    map[string]any `json:"update"`
	} `json:"params"`
}

// serve feeds lines to a fresh server and returns every frame it wrote.
func serve(t *testing.T, a *agent.Agent, lines ...string) []frame {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n"))
	require.NoError(t, NewServer(a, logging.Discard()).Serve(context.Background(), in, &out))

	var frames []frame
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var f frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f), scanner.Text())
		frames = append(frames, f)
	}
	return frames
}

func TestInitialize(t *testing.T) {
	frames := serve(t, newTestAgent(t, llm.NewMockLLMClient()),
		`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":1,"clientCapabilities":{"fs":{"readTextFile":true}}}}`)
	require.Len(t, frames, 1)

	var result struct {
		ProtocolVersion   int `json:"protocolVersion"`
		AgentCapabilities struct {
			LoadSession bool `json:"loadSession"`
		} `json:"agentCapabilities"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Result, &result))
	assert.EqualValues(t, 0, frames[0].ID)
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.True(t, result.AgentCapabilities.LoadSession)
}

func TestProtocolErrors(t *testing.T) {
	frames := serve(t, newTestAgent(t, llm.NewMockLLMClient()),
		`not json`,
		`{"jsonrpc":"2.0","id":1,"method":"bogus"}`,
		`{"jsonrpc":"2.0","method":"session/cancel","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"session/prompt","params":{"sessionId":"nope","prompt":[{"type":"text","text":"hi"}]}}`,
		`{"jsonrpc":"2.0","id":3,"method":"session/load","params":{"sessionId":"nope"}}`,
	)
	require.Len(t, frames, 4)
	assert.Equal(t, codeParseError, frames[0].Error.Code)
	assert.Equal(t, codeMethodNotFound, frames[1].Error.Code)
	assert.Equal(t, codeInvalidParams, frames[2].Error.Code)
	assert.Equal(t, "unknown sessionId", frames[2].Error.Data)
	assert.Equal(t, codeInvalidParams, frames[3].Error.Code)
}

func newSession(t *testing.T, a *agent.Agent) string {
	t.Helper()
	frames := serve(t, a, `{"jsonrpc":"2.0","id":1,"method":"session/new","params":{"cwd":"/tmp","mcpServers":[]}}`)
	require.Len(t, frames, 1)
	var res struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Result, &res))
	require.True(t, strings.HasPrefix(res.SessionID, "sess_"))
	return res.SessionID
}

func prompt(id, text string) string {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "session/prompt",
		"params": map[string]any{
			"sessionId": id,
			"prompt":    []map[string]any{{"type": "text", "text": text}},
		},
	})
	return string(b)
}

func TestPromptAndLoad(t *testing.T) {
	a := newTestAgent(t, llm.NewMockLLMClient())
	sid := newSession(t, a)

	frames := serve(t, a, prompt(sid, "hello"))
	require.Len(t, frames, 2)
	assert.Equal(t, "session/update", frames[0].Method)
	assert.Equal(t, sid, frames[0].Params.SessionID)
	assert.Equal(t, "agent_message_chunk", frames[0].Params.Update["sessionUpdate"])
	assert.JSONEq(t, `{"stopReason":"end_turn"}`, string(frames[1].Result))

	frames = serve(t, a, `{"jsonrpc":"2.0","id":3,"method":"session/load","params":{"sessionId":"`+sid+`"}}`)
	require.Len(t, frames, 3)
	assert.Equal(t, "user_message_chunk", frames[0].Params.Update["sessionUpdate"])
	assert.Equal(t, map[string]any{"type": "text", "text": "hello"}, frames[0].Params.Update["content"])
	assert.Equal(t, "agent_message_chunk", frames[1].Params.Update["sessionUpdate"])
	assert.Equal(t, "null", string(frames[2].Result))
}

func TestPromptReportsCode(t *testing.T) {
	client := llm.NewMockLLMClient(
		&llm.ChatResponse{Content: "<execute>print(6*7)</execute>", FinishReason: llm.FinishStop},
		&llm.ChatResponse{Content: "42", FinishReason: llm.FinishStop},
	)
	a := newTestAgent(t, client, agent.WithExecutionMode(agent.ModeCodeAct))
	sid := newSession(t, a)

	frames := serve(t, a, prompt(sid, "compute"))
	require.Len(t, frames, 4)

	call := frames[0].Params.Update
	assert.Equal(t, "tool_call", call["sessionUpdate"])
	tc := call["toolCall"].(map[string]any)
	assert.Equal(t, "execute_code", tc["name"])

	result := frames[1].Params.Update["toolResult"].(map[string]any)
	assert.Equal(t, tc["id"], result["toolCallId"])
	assert.Equal(t, "42", result["result"])

	assert.Equal(t, map[string]any{"type": "text", "text": "42"}, frames[2].Params.Update["content"])
}

func TestExtractUserTextWithResourceLink(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "test.txt")
	testContent := "This is test file content"
	require.NoError(t, os.WriteFile(testFile, []byte(testContent), 0o644))
	fileURI := "file://" + testFile

	tests := []struct {
		name     string
		blocks   []contentBlock
		expected string
		contains []string
	}{
		{
			name: "text only",
			blocks: []contentBlock{
				{Type: "text", Text: "Hello"},
				{Type: "text", Text: "  "},
				{Type: "text", Text: "World"},
			},
			expected: "Hello\nWorld",
		},
		{
			name: "resource_link with file",
			blocks: []contentBlock{
				{Type: "text", Text: "Check this file:"},
				{
					Type:        "resource_link",
					URI:         fileURI,
					Name:        "test.txt",
					MimeType:    "text/plain",
					Title:       "Test File",
					Description: "A test file",
				},
			},
			contains: []string{
				"Check this file:",
				"=== Resource: test.txt ===",
				"Title: Test File",
				"Description: A test file",
				"URI: file://",
				"Type: text/plain",
				"--- File Contents ---\n" + testContent + "\n--- End of File ---",
			},
		},
		{
			name: "missing file",
			blocks: []contentBlock{
				{Type: "resource_link", URI: "file://" + filepath.Join(dir, "gone.txt"), Name: "gone.txt"},
			},
			contains: []string{"[Error reading file: failed to read file:"},
		},
		{
			name: "resource_link with non-file URI",
			blocks: []contentBlock{
				{Type: "resource_link", URI: "https://example.com/file.txt", Name: "remote.txt"},
			},
			contains: []string{
				"=== Resource: remote.txt ===",
				"URI: https://example.com/file.txt",
				"[External resource - content not available]",
				"=== End Resource ===",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractUserText(tt.blocks)
			if tt.expected != "" {
				assert.Equal(t, tt.expected, result)
			}
			for _, substr := range tt.contains {
				assert.Contains(t, result, substr)
			}
		})
	}
}
