package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

const defaultBedrockModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// bedrockInvoker is the part of the Bedrock runtime client we use.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  bedrockInvoker
	modelID string
	region  string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
		opts = append(opts, awsconfig.WithRegion("us-east-1"))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	var clientOpts []func(*bedrockruntime.Options)
	// Custom endpoint, useful for testing.
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if modelID == "" {
		modelID = defaultBedrockModel
	}

	return &BedrockLLMClient{
		client:  bedrockruntime.NewFromConfig(cfg, clientOpts...),
		modelID: modelID,
		region:  cfg.Region,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, req *ChatRequest) *ChatResponse {
	return respond(b.chat(ctx, req))
}

func (b *BedrockLLMClient) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	modelID := b.modelID
	if req.Model != "" {
		modelID = req.Model
	}
	body, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

func textContent(text string) []map[string]any {
	return []map[string]any{{"type": "text", "text": text}}
}

// convertMessagesToAnthropicFormat converts our internal message format to
// the Anthropic messages JSON used on Bedrock.
func convertMessagesToAnthropicFormat(messages []session.Message) []map[string]any {
	var out []map[string]any
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			out = append(out, map[string]any{"role": "user", "content": textContent(msg.Content)})
		case session.RoleAssistant:
			var blocks []map[string]any
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ToolCallID,
					"name":  tc.Name,
					"input": args,
				})
			}
			if len(blocks) > 0 {
				out = append(out, map[string]any{"role": "assistant", "content": blocks})
			}
		case session.RoleTool:
			result := map[string]any{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Content,
			}
			if n := len(out); n > 0 && out[n-1]["role"] == "user" {
				if blocks, ok := out[n-1]["content"].([]map[string]any); ok && len(blocks) > 0 && blocks[0]["type"] == "tool_result" {
					out[n-1]["content"] = append(blocks, result)
					continue
				}
			}
			out = append(out, map[string]any{"role": "user", "content": []map[string]any{result}})
		}
	}
	return out
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req *ChatRequest) ([]byte, error) {
	request := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens(req),
		"messages":          convertMessagesToAnthropicFormat(req.Messages),
	}
	if sys := systemPrompt(req.Messages); sys != "" {
		request["system"] = sys
	}
	if req.Temperature != nil {
		request["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		var ts []map[string]any
		for _, s := range req.Tools {
			schema := s.Function.Parameters
			if schema == nil {
				schema = tools.ObjectSchema(nil)
			}
			ts = append(ts, map[string]any{
				"name":         s.Function.Name,
				"description":  s.Function.Description,
				"input_schema": schema,
			})
		}
		request["tools"] = ts
	}
	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock response body into a ChatResponse.
func processBedrockResponse(body []byte) (*ChatResponse, error) {
	var response struct {
		Content []struct {
			Type  string         `json:"type"`
			Text  string         `json:"text"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if response.Error != nil {
		return nil, errors.New("Bedrock API error: %v", response.Error)
	}

	out := &ChatResponse{
		FinishReason: FinishStop,
		Usage:        Usage{PromptTokens: response.Usage.InputTokens, CompletionTokens: response.Usage.OutputTokens},
	}
	for i, item := range response.Content {
		switch item.Type {
		case "text":
			out.Content += item.Text
		case "tool_use":
			id := item.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, item.Name)
			}
			args := item.Input
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{ToolCallID: id, Name: item.Name, Args: args})
		}
	}
	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = FinishToolCalls
	case response.StopReason == "max_tokens":
		out.FinishReason = FinishLength
	}
	return out, nil
}
