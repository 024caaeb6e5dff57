package llm

import (
	"context"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
	model  string
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GeminiLLMClient{client: client, model: modelName}, nil
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiLLMClient) Chat(ctx context.Context, req *ChatRequest) *ChatResponse {
	return respond(g.chat(ctx, req))
}

func (g *GeminiLLMClient) chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	name := g.model
	if req.Model != "" {
		name = req.Model
	}
	// GenerativeModel carries per-request settings, so build one per call.
	model := g.client.GenerativeModel(name)
	model.SetMaxOutputTokens(int32(maxTokens(req)))
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	if sys := systemPrompt(req.Messages); sys != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(sys)}}
	}
	model.Tools = convertToolsToGeminiTools(req.Tools)

	history := convertMessagesToGeminiContent(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}
	last := history[len(history)-1]

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to
// Gemini's. Tool results become function responses in a user turn; adjacent
// turns with the same role are merged.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	appendParts := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			// Sent as SystemInstruction.
		case session.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			appendParts("model", parts...)
		case session.RoleTool:
			appendParts("user", genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"result": msg.Content},
			})
		default:
			appendParts("user", genai.Text(msg.Content))
		}
	}
	return contents
}

// convertToolsToGeminiTools converts tool schemas to Gemini function declarations.
func convertToolsToGeminiTools(schemas []tools.Schema) []*genai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, s := range schemas {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Function.Name,
			Description: s.Function.Description,
			Parameters:  toGeminiSchema(s.Function.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"integer": genai.TypeInteger,
	"number":  genai.TypeNumber,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// toGeminiSchema converts a JSON schema map into genai.Schema.
func toGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	typ, _ := m["type"].(string)
	s := &genai.Schema{Type: genai.TypeString}
	if t, ok := geminiTypes[typ]; ok {
		s.Type = t
	}
	s.Description, _ = m["description"].(string)

	if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(pm)
			}
		}
	}
	s.Required = tools.RequiredOf(m)
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

// processGeminiResponse converts a Gemini API response into a ChatResponse.
// Gemini has no call ids, so each function call gets a fresh uuid.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}
	cand := resp.Candidates[0]
	out := &ChatResponse{FinishReason: FinishStop}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			args := v.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{
				ToolCallID: "call_" + uuid.NewString(),
				Name:       v.Name,
				Args:       args,
			})
		}
	}
	out.Content = text.String()
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	} else if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.FinishReason = FinishLength
	}
	return out, nil
}
