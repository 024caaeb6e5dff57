package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAILLMClient is a client for the OpenAI Chat Completion API and
// compatible endpoints.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the
// OPENAI_API_KEY environment variable to be set. The base URL comes from
// baseURL or OPENAI_BASE_URL.
func NewOpenAILLMClient(ctx context.Context, modelName, baseURL string) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if modelName == "" {
		modelName = defaultOpenAIModel
	}

	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

// Chat sends a chat request to OpenAI.
func (o *OpenAILLMClient) Chat(ctx context.Context, req *ChatRequest) *ChatResponse {
	return respond(o.chat(ctx, req))
}

func (o *OpenAILLMClient) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := o.model
	if req.Model != "" {
		model = req.Model
	}
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(model),
		Messages:  convertMessagesToOpenaiContent(req.Messages),
		Tools:     convertToolsToOpenAITools(req.Tools),
		MaxTokens: openai.Int(int64(maxTokens(req))),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}
	return processOpenaiResponse(resp), nil
}

// processOpenaiResponse converts an OpenAI API response into a ChatResponse.
func processOpenaiResponse(resp *openai.ChatCompletion) *ChatResponse {
	out := &ChatResponse{
		FinishReason: FinishStop,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	if choice.FinishReason != "" {
		out.FinishReason = choice.FinishReason
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
			Args:       parseArgs(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	return out
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				argsBytes, err := json.Marshal(tc.Args)
				if err != nil {
					argsBytes = []byte("{}")
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ToolCallID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts tool schemas to the OpenAI tool format.
func convertToolsToOpenAITools(schemas []tools.Schema) []openai.ChatCompletionToolUnionParam {
	if len(schemas) == 0 {
		return nil
	}
	var out []openai.ChatCompletionToolUnionParam
	for _, s := range schemas {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Function.Name,
			Description: openai.String(s.Function.Description),
			Parameters:  openai.FunctionParameters(s.Function.Parameters),
		}))
	}
	return out
}
