package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName, baseURL string) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicLLMClient{client: &client, model: modelName}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, req *ChatRequest) *ChatResponse {
	return respond(a.chat(ctx, req))
}

func (a *AnthropicLLMClient) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens(req)),
		Messages:  convertMessagesToAnthropicMessages(req.Messages),
	}
	if sys := systemPrompt(req.Messages); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	for _, toolParam := range convertToolsToAnthropicTools(req.Tools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts our internal message format to
// Anthropic's. System messages are sent out of band; consecutive tool results
// are merged into one user message as the API requires.
func convertMessagesToAnthropicMessages(messages []session.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case session.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: msg.Content}})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ToolCallID,
						Name:  tc.Name,
						Input: args,
					}})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
			}
		case session.RoleTool:
			block := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: msg.Content},
					}},
				},
			}
			if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleUser && isToolResultMessage(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleUser, Content: []anthropic.ContentBlockParamUnion{block}})
		}
	}
	return out
}

func isToolResultMessage(m anthropic.MessageParam) bool {
	for _, b := range m.Content {
		if b.OfToolResult == nil {
			return false
		}
	}
	return len(m.Content) > 0
}

// convertToolsToAnthropicTools converts tool schemas to Anthropic's tool format.
func convertToolsToAnthropicTools(schemas []tools.Schema) []anthropic.ToolParam {
	var out []anthropic.ToolParam
	for _, s := range schemas {
		props, _ := s.Function.Parameters["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, anthropic.ToolParam{
			Name:        s.Function.Name,
			Description: anthropic.String(s.Function.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   tools.RequiredOf(s.Function.Parameters),
			},
		})
	}
	return out
}

// processAnthropicResponse converts an Anthropic API response into a ChatResponse.
func processAnthropicResponse(resp *anthropic.Message) (*ChatResponse, error) {
	out := &ChatResponse{
		FinishReason: string(resp.StopReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += c.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(c.Input, &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
			}
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{ToolCallID: c.ID, Name: c.Name, Args: args})
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	} else if out.FinishReason == "" || out.FinishReason == "end_turn" {
		out.FinishReason = FinishStop
	}
	return out, nil
}
