package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
	// FinishError marks a response synthesised from a transport or API failure.
	FinishError = "error"

	defaultMaxTokens = 4096
)

// LLMClient is the interface for interacting with a Large Language Model.
// Chat never fails: transport and API errors come back as a response whose
// FinishReason is FinishError.
type LLMClient interface {
	Chat(ctx context.Context, req *ChatRequest) *ChatResponse
}

type ChatRequest struct {
	Messages    []session.Message
	Tools       []tools.Schema
	Model       string // overrides the client's default model when set
	MaxTokens   int
	Temperature *float64
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type ChatResponse struct {
	Content      string
	ToolCalls    []session.ToolCall
	FinishReason string
	Usage        Usage
}

// HasToolCalls reports whether the model requested any tool calls.
func (r *ChatResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// IsError reports whether the response stands for a failed call.
func (r *ChatResponse) IsError() bool { return r.FinishReason == FinishError }

// ErrorResponse converts a failed call into a response.
func ErrorResponse(err error) *ChatResponse {
	return &ChatResponse{
		Content:      fmt.Sprintf("Error calling LLM: %s", err),
		FinishReason: FinishError,
	}
}

// respond applies the never-fail contract to an internal call result.
func respond(resp *ChatResponse, err error) *ChatResponse {
	if err != nil {
		return ErrorResponse(err)
	}
	if resp == nil {
		return &ChatResponse{FinishReason: FinishStop}
	}
	return resp
}

// NewClient builds the client named by cfg.LLMClient.
func NewClient(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	var (
		client LLMClient
		err    error
	)
	switch cfg.LLMClient {
	case "anthropic", "":
		client, err = NewAnthropicLLMClient(ctx, cfg.Model, cfg.APIBase)
	case "openai":
		client, err = NewOpenAILLMClient(ctx, cfg.Model, cfg.APIBase)
	case "gemini":
		client, err = NewGeminiLLMClient(ctx, cfg.Model)
	case "bedrock":
		client, err = NewBedrockLLMClient(ctx, cfg.Model)
	case "mock":
		client = NewMockLLMClient()
	default:
		return nil, errors.Wrapf(errors.ErrUnknownProvider, "%q", cfg.LLMClient)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func maxTokens(req *ChatRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

// systemPrompt joins all system messages; providers that take the system
// prompt out of band use it.
func systemPrompt(messages []session.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == session.RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// parseArgs decodes a JSON argument string, keeping unparseable input
// under "raw" so the tool sees what the model sent.
func parseArgs(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	return args
}
