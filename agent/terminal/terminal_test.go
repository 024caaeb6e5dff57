package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/m4xw311/spark/agent"
	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/llm"
	"github.com/m4xw311/spark/logging"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

type upperTool struct{}

func (upperTool) Name() string        { return "upper" }
func (upperTool) Description() string { return "Upper-cases text." }
func (upperTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{"text": tools.Prop("string", "Text")}, "text")
}
func (upperTool) Execute(_ context.Context, args map[string]any) (string, error) {
	return strings.ToUpper(args["text"].(string)), nil
}

func newTestAgent(t *testing.T, client llm.LLMClient, opts ...agent.Option) (*agent.Agent, *session.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()

	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	sessions := session.NewManager(store)

	registry := tools.NewToolRegistry(logging.Discard())
	registry.Register(upperTool{})

	opts = append([]agent.Option{agent.WithLogger(logging.Discard())}, opts...)
	a, err := agent.New(cfg, client, registry, sessions, opts...)
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}
	return a, sessions
}

func TestTerminalNew(t *testing.T) {
	a, _ := newTestAgent(t, llm.NewMockLLMClient())

	term := New(a)
	if term.agent != a {
		t.Fatal("Terminal agent doesn't match the provided agent")
	}
	if term.key != DefaultSessionKey {
		t.Errorf("expected key %q, got %q", DefaultSessionKey, term.key)
	}

	term = New(a, WithSessionKey("cli:notes"))
	if term.key != "cli:notes" {
		t.Errorf("expected key cli:notes, got %q", term.key)
	}
}

func TestTerminalRun(t *testing.T) {
	a, sessions := newTestAgent(t, llm.NewMockLLMClient())

	var out bytes.Buffer
	in := strings.NewReader("\nhello\n/quit\nignored\n")
	term := New(a, WithIO(in, &out))

	if err := term.Run(context.Background(), "first"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Spark: I am a mock LLM. You said: 'first'.",
		"Spark: I am a mock LLM. You said: 'hello'.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Errorf("input after /quit was processed:\n%s", got)
	}

	sess, err := sessions.GetOrCreate(DefaultSessionKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Messages) != 4 {
		t.Errorf("expected 4 stored messages, got %d", len(sess.Messages))
	}
}

func TestTerminalReset(t *testing.T) {
	a, sessions := newTestAgent(t, llm.NewMockLLMClient())

	var out bytes.Buffer
	term := New(a, WithIO(strings.NewReader("one\n/reset\n"), &out))
	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Session cleared.") {
		t.Errorf("missing reset confirmation:\n%s", out.String())
	}

	sess, err := sessions.GetOrCreate(DefaultSessionKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("expected empty history after reset, got %d messages", len(sess.Messages))
	}
}

func TestTerminalVerbosityAndApproval(t *testing.T) {
	client := llm.NewMockLLMClient(
		&llm.ChatResponse{
			ToolCalls:    []session.ToolCall{{ToolCallID: "1", Name: "upper", Args: map[string]any{"text": "hi"}}},
			FinishReason: llm.FinishToolCalls,
		},
		&llm.ChatResponse{Content: "Done.", FinishReason: llm.FinishStop},
	)
	a, _ := newTestAgent(t, client,
		agent.WithApprovalMode(agent.ApprovalPrompt),
		agent.WithToolVerbosity(agent.ToolVerbosityAll))

	var out bytes.Buffer
	term := New(a, WithIO(strings.NewReader("shout\ny\n"), &out))
	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Spark wants to call tool `upper` with args: map[text:hi]",
		"Do you want to allow this? (y/n): ",
		"Tool `upper` output: HI",
		"Spark: Done.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestTerminalDenied(t *testing.T) {
	client := llm.NewMockLLMClient(
		&llm.ChatResponse{Content: "<execute>print(1)</execute>", FinishReason: llm.FinishStop},
		&llm.ChatResponse{Content: "Fine.", FinishReason: llm.FinishStop},
	)
	a, _ := newTestAgent(t, client,
		agent.WithExecutionMode(agent.ModeCodeAct),
		agent.WithApprovalMode(agent.ApprovalPrompt),
		agent.WithToolVerbosity(agent.ToolVerbosityNone))

	var out bytes.Buffer
	term := New(a, WithIO(strings.NewReader("run it\nn\n"), &out))
	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	reqs := client.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1].Content
	if !strings.Contains(last, "Error: code execution denied by user") {
		t.Errorf("unexpected observation %q", last)
	}
	if strings.Contains(out.String(), "wants to run code") {
		t.Errorf("code announced with verbosity none:\n%s", out.String())
	}
}
