package llm

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation() []session.Message {
	return []session.Message{
		{Role: session.RoleSystem, Content: "You are Spark."},
		{Role: session.RoleUser, Content: "read a"},
		{Role: session.RoleAssistant, Content: "sure", ToolCalls: []session.ToolCall{
			{ToolCallID: "c1", Name: "read_file", Args: map[string]any{"path": "a"}},
		}},
		{Role: session.RoleTool, ToolCallID: "c1", Name: "read_file", Content: "contents"},
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(errors.New("timeout"))
	assert.True(t, resp.IsError())
	assert.False(t, resp.HasToolCalls())
	assert.Contains(t, resp.Content, "Error calling LLM: ")

	assert.Equal(t, FinishStop, respond(nil, nil).FinishReason)
}

func TestNewClient(t *testing.T) {
	cfg := config.Default()
	cfg.LLMClient = "mock"
	c, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &MockLLMClient{}, c)

	cfg.LLMClient = "llama.cpp"
	_, err = NewClient(context.Background(), cfg)
	assert.True(t, errors.Is(err, errors.ErrUnknownProvider))

	t.Setenv("OPENAI_API_KEY", "")
	cfg.LLMClient = "openai"
	_, err = NewClient(context.Background(), cfg)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestMockLLMClient(t *testing.T) {
	m := NewMockLLMClient(&ChatResponse{Content: "first", FinishReason: FinishStop})
	req := &ChatRequest{Messages: []session.Message{{Role: session.RoleUser, Content: "hello"}}}

	assert.Equal(t, "first", m.Chat(context.Background(), req).Content)
	assert.Equal(t, "I am a mock LLM. You said: 'hello'.", m.Chat(context.Background(), req).Content)
	assert.Equal(t, 2, m.Calls())

	// Recorded requests are snapshots.
	req.Messages[0].Content = "changed"
	assert.Equal(t, "hello", m.Requests()[0].Messages[0].Content)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, m.Chat(ctx, req).IsError())
}

func TestAnthropicConversion(t *testing.T) {
	msgs := convertMessagesToAnthropicMessages(conversation())
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[1].Content, 2, "text and tool_use blocks")
	require.NotNil(t, msgs[1].Content[1].OfToolUse)
	assert.Equal(t, "c1", msgs[1].Content[1].OfToolUse.ID)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", msgs[2].Content[0].OfToolResult.ToolUseID)

	ts := convertToolsToAnthropicTools([]tools.Schema{{
		Type: "function",
		Function: tools.SchemaFunction{
			Name:       "read_file",
			Parameters: tools.ObjectSchema(map[string]any{"path": tools.Prop("string", "p")}, "path"),
		},
	}})
	require.Len(t, ts, 1)
	assert.Equal(t, []string{"path"}, ts[0].InputSchema.Required)
}

func TestOpenAIConversion(t *testing.T) {
	msgs := convertMessagesToOpenaiContent(conversation())
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)

	assert.Nil(t, convertToolsToOpenAITools(nil))
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, parseArgs(`{"a":1}`))
	assert.Equal(t, map[string]any{}, parseArgs(""))
	assert.Equal(t, map[string]any{"raw": "not json"}, parseArgs("not json"))
}

func TestGeminiConversion(t *testing.T) {
	contents := convertMessagesToGeminiContent(conversation())
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	fc, ok := contents[1].Parts[1].(genai.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "read_file", fc.Name)
	fr, ok := contents[2].Parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "contents", fr.Response["result"])
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string", "description": "p"},
			"lines": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
		},
		"required": []any{"path"},
	})
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, genai.TypeString, s.Properties["path"].Type)
	assert.Equal(t, genai.TypeInteger, s.Properties["lines"].Items.Type)
	assert.Equal(t, []string{"path"}, s.Required)
}

func TestProcessGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{
			genai.Text("checking"),
			genai.FunctionCall{Name: "shell", Args: map[string]any{"command": "ls"}},
		}},
	}}}
	out, err := processGeminiResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "checking", out.Content)
	assert.Equal(t, FinishToolCalls, out.FinishReason)
	require.Len(t, out.ToolCalls, 1)
	assert.Regexp(t, `^call_[0-9a-f-]{36}$`, out.ToolCalls[0].ToolCallID)

	_, err = processGeminiResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}
