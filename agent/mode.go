package agent

import (
	"context"
	"strings"

	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/llm"
	"github.com/m4xw311/spark/session"
)

// ExecutionMode selects how the model invokes tools.
type ExecutionMode string

const (
	ModeFunctionCalling ExecutionMode = "function_calling"
	ModeCodeAct         ExecutionMode = "code_act"
	// ModeAuto classifies each message before choosing one of the other two.
	ModeAuto ExecutionMode = "auto"
)

func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch m := ExecutionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFunctionCalling, ModeCodeAct, ModeAuto:
		return m, nil
	case "":
		return ModeFunctionCalling, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidMode, "execution mode %q", s)
}

// ApprovalMode decides whether tool calls and code need user confirmation.
type ApprovalMode string

const (
	ApprovalAuto   ApprovalMode = "auto"
	ApprovalPrompt ApprovalMode = "prompt"
)

func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch m := ApprovalMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ApprovalAuto, ApprovalPrompt:
		return m, nil
	case "":
		return ApprovalAuto, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidMode, "approval mode %q", s)
}

// ToolVerbosity controls how much of each tool call a front end shows.
type ToolVerbosity int

const (
	ToolVerbosityNone ToolVerbosity = iota
	ToolVerbosityInfo
	ToolVerbosityAll
)

func ParseToolVerbosity(s string) (ToolVerbosity, error) {
	switch strings.ToLower(s) {
	case "none":
		return ToolVerbosityNone, nil
	case "", "info":
		return ToolVerbosityInfo, nil
	case "all":
		return ToolVerbosityAll, nil
	}
	return ToolVerbosityInfo, errors.New("invalid tool verbosity %q, expected none, info or all", s)
}

const classifyPrompt = `You are a routing assistant. Given a user message, decide which execution mode is best:

- "function_calling": Best for simple, single-tool requests (read a file, run a search, fetch a URL). The LLM calls tools via structured JSON, one at a time.
- "code_act": Best for multi-step tasks that benefit from composition: loops, conditionals, variable reuse, chaining tool results, batch operations, or data transformation. The LLM writes executable Python code that calls tools as functions.

Respond with ONLY "function_calling" or "code_act". Nothing else.`

// SelectMode asks the model to classify message. Any answer that does not
// mention code_act, including a failed call, selects function calling.
func SelectMode(ctx context.Context, client llm.LLMClient, model, message string) ExecutionMode {
	zero := 0.0
	resp := client.Chat(ctx, &llm.ChatRequest{
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: classifyPrompt},
			{Role: session.RoleUser, Content: message},
		},
		Model:       model,
		MaxTokens:   20,
		Temperature: &zero,
	})
	if resp.IsError() {
		return ModeFunctionCalling
	}
	if strings.Contains(strings.ToLower(resp.Content), string(ModeCodeAct)) {
		return ModeCodeAct
	}
	return ModeFunctionCalling
}
