package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/m4xw311/spark/codeact"
	"github.com/m4xw311/spark/llm"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

const (
	deniedToolCall = "Error: tool call denied by user"
	deniedCode     = "Error: code execution denied by user"
)

// turn is the working state of one ProcessMessage call.
type turn struct {
	key      string
	messages []session.Message
	cb       ProcessCallbacks
	approval ApprovalMode
	usage    llm.Usage
	steps    int
}

func (t *turn) append(m session.Message) { t.messages = append(t.messages, m) }

// approved reports whether an action may run. Without an approver, prompt
// mode behaves like auto.
func (t *turn) approved(ask func() (bool, bool)) bool {
	if t.approval != ApprovalPrompt {
		return true
	}
	ok, asked := ask()
	return ok || !asked
}

// strategy turns one model response into either a final answer or more
// context for the next iteration.
type strategy interface {
	tools() []tools.Schema
	handle(ctx context.Context, resp *llm.ChatResponse, t *turn) (string, bool)
}

type functionCalling struct {
	registry *tools.ToolRegistry
}

func (s *functionCalling) tools() []tools.Schema { return s.registry.Schemas() }

func (s *functionCalling) handle(ctx context.Context, resp *llm.ChatResponse, t *turn) (string, bool) {
	if !resp.HasToolCalls() {
		return resp.Content, true
	}

	calls := make([]session.ToolCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		if tc.ToolCallID == "" {
			tc.ToolCallID = "call_" + uuid.NewString()
		}
		calls[i] = tc
	}
	if strings.TrimSpace(resp.Content) != "" {
		t.cb.onAssistantMessage(resp.Content)
	}
	t.append(session.Message{Role: session.RoleAssistant, Content: resp.Content, ToolCalls: calls})

	for _, tc := range calls {
		t.cb.onToolCall(tc)
		var result string
		if t.approved(func() (bool, bool) { return t.cb.shouldExecuteTool(tc) }) {
			result = s.registry.Dispatch(ctx, tc.Name, tc.Args)
		} else {
			result = deniedToolCall
		}
		t.steps++
		t.cb.onToolResult(tc, result)
		t.append(session.Message{
			Role:       session.RoleTool,
			Content:    result,
			ToolCallID: tc.ToolCallID,
			Name:       tc.Name,
		})
	}
	return "", false
}

type codeAct struct {
	executor *codeact.Executor
}

// No schemas are sent; tools are reached through generated code.
func (s *codeAct) tools() []tools.Schema { return nil }

func (s *codeAct) handle(ctx context.Context, resp *llm.ChatResponse, t *turn) (string, bool) {
	code, ok := codeact.ExtractCode(resp.Content)
	if !ok {
		if text := codeact.ExtractTextResponse(resp.Content); text != "" {
			return text, true
		}
		return strings.TrimSpace(resp.Content), true
	}

	if text := codeact.ExtractTextResponse(resp.Content); text != "" {
		t.cb.onAssistantMessage(text)
	}
	t.append(session.Message{Role: session.RoleAssistant, Content: resp.Content})
	t.cb.onCode(code)

	var out string
	if t.approved(func() (bool, bool) { return t.cb.shouldExecuteCode(code) }) {
		out = s.executor.Execute(ctx, code)
	} else {
		out = deniedCode
	}
	t.steps++
	t.cb.onObservation(out)
	t.append(session.Message{Role: session.RoleUser, Content: FormatObservation(out)})
	return "", false
}

// FormatObservation wraps executor output for the model.
func FormatObservation(out string) string {
	return fmt.Sprintf("[Observation]\n%s\n[/Observation]", out)
}
