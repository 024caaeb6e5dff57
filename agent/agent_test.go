package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m4xw311/spark/bus"
	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/llm"
	"github.com/m4xw311/spark/logging"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{ calls atomic.Int32 }

func (*echoTool) Name() string        { return "echo" }
func (*echoTool) Description() string { return "Echo the text back." }
func (*echoTool) Parameters() map[string]any {
	return tools.ObjectSchema(map[string]any{"text": tools.Prop("string", "Text to echo")}, "text")
}
func (e *echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	e.calls.Add(1)
	return fmt.Sprint(args["text"]), nil
}

type fixture struct {
	agent    *Agent
	client   *llm.MockLLMClient
	echo     *echoTool
	sessions *session.Manager
}

func newFixture(t *testing.T, mode ExecutionMode, opts ...Option) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()

	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sessions := session.NewManager(store)

	echo := &echoTool{}
	registry := tools.NewToolRegistry(logging.Discard())
	registry.Register(echo)

	client := llm.NewMockLLMClient()
	opts = append([]Option{WithExecutionMode(mode), WithLogger(logging.Discard())}, opts...)
	a, err := New(cfg, client, registry, sessions, opts...)
	require.NoError(t, err)
	return &fixture{agent: a, client: client, echo: echo, sessions: sessions}
}

func text(s string) *llm.ChatResponse {
	return &llm.ChatResponse{Content: s, FinishReason: llm.FinishStop}
}

func toolCall(id, name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{
		ToolCalls:    []session.ToolCall{{ToolCallID: id, Name: name, Args: args}},
		FinishReason: llm.FinishToolCalls,
	}
}

func lastMessage(req *llm.ChatRequest) session.Message {
	return req.Messages[len(req.Messages)-1]
}

func TestFunctionCallingTurn(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	f.client.Push(toolCall("c1", "echo", map[string]any{"text": "hi"}), text("Done."))

	var results []string
	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "say hi", ProcessCallbacks{
		OnToolResult: func(_ session.ToolCall, r string) { results = append(results, r) },
	})
	require.NoError(t, err)
	assert.Equal(t, "Done.", answer)
	assert.Equal(t, []string{"hi"}, results)

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, session.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, session.Message{Role: session.RoleUser, Content: "say hi"}, lastMessage(reqs[0]))

	msgs := reqs[1].Messages
	assistant := msgs[len(msgs)-2]
	assert.Equal(t, session.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, session.Message{Role: session.RoleTool, Content: "hi", ToolCallID: "c1", Name: "echo"}, lastMessage(reqs[1]))
}

func TestCodeActTurn(t *testing.T) {
	f := newFixture(t, ModeCodeAct)
	f.client.Push(text("<execute>\nprint(1+1)\n</execute>"), text("It's 2."))

	var codes, observations []string
	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "what is 1+1", ProcessCallbacks{
		OnCode:        func(c string) { codes = append(codes, c) },
		OnObservation: func(o string) { observations = append(observations, o) },
	})
	require.NoError(t, err)
	assert.Equal(t, "It's 2.", answer)
	assert.Equal(t, []string{"print(1+1)"}, codes)
	assert.Equal(t, []string{"2"}, observations)

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	assert.Nil(t, reqs[0].Tools)
	assert.Contains(t, reqs[0].Messages[0].Content, "## Code Execution Environment")
	assert.Contains(t, reqs[0].Messages[0].Content, "- `echo(text: str)` - Echo the text back.")
	assert.Equal(t, session.Message{Role: session.RoleUser, Content: "[Observation]\n2\n[/Observation]"}, lastMessage(reqs[1]))
}

func TestCodeActCallsTools(t *testing.T) {
	f := newFixture(t, ModeCodeAct)
	f.client.Push(text(`<execute>
for w in ["a", "b"]:
    print(echo(text=w))
</execute>`), text("Echoed both."))

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "echo a and b", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "Echoed both.", answer)
	assert.EqualValues(t, 2, f.echo.calls.Load())
	assert.Equal(t, "[Observation]\na\nb\n[/Observation]", lastMessage(f.client.Requests()[1]).Content)
}

type boomTool struct{}

func (boomTool) Name() string               { return "boom" }
func (boomTool) Description() string        { return "Always fails." }
func (boomTool) Parameters() map[string]any { return tools.ObjectSchema(nil) }
func (boomTool) Execute(context.Context, map[string]any) (string, error) {
	return "", fmt.Errorf("kaput")
}

func TestToolFailuresDoNotEndTurn(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	f.agent.Registry().Register(boomTool{})
	f.client.Push(
		toolCall("c1", "boom", nil),
		toolCall("c2", "nope", map[string]any{}),
		text("recovered"),
	)

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "try things", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)

	reqs := f.client.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, session.Message{Role: session.RoleTool, Content: "Error executing boom: kaput", ToolCallID: "c1", Name: "boom"}, lastMessage(reqs[1]))
	assert.Equal(t, session.Message{Role: session.RoleTool, Content: "Error: Tool 'nope' not found", ToolCallID: "c2", Name: "nope"}, lastMessage(reqs[2]))
}

func TestCodeActRunsExecuteInsideThought(t *testing.T) {
	f := newFixture(t, ModeCodeAct)
	f.client.Push(text(`<thought>plan <execute>print(echo(text="x"))</execute></thought>`), text("done"))

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "echo x", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	assert.EqualValues(t, 1, f.echo.calls.Load())
	assert.Equal(t, "[Observation]\nx\n[/Observation]", lastMessage(f.client.Requests()[1]).Content)
}

func TestIterationLimit(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling, WithMaxIterations(3))
	for i := 0; i < 5; i++ {
		f.client.Push(toolCall(fmt.Sprintf("c%d", i), "echo", map[string]any{"text": "again"}))
	}

	var warnings []string
	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "loop", ProcessCallbacks{
		OnWarning: func(w string) { warnings = append(warnings, w) },
	})
	require.NoError(t, err)
	assert.Equal(t, FallbackResponse, answer)
	assert.Equal(t, 3, len(f.client.Requests()))
	assert.Len(t, warnings, 1)
}

func TestAutoModeFallsBackToFunctionCalling(t *testing.T) {
	f := newFixture(t, ModeAuto)
	f.client.Push(text("no idea"), text("hello"))

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "hi", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "hello", answer)

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 20, reqs[0].MaxTokens)
	assert.Nil(t, reqs[0].Tools)
	assert.Len(t, reqs[1].Tools, 1)
}

func TestAutoModeSelectsCodeAct(t *testing.T) {
	f := newFixture(t, ModeAuto)
	f.client.Push(text("code_act"), text("<execute>print(3)</execute>"), text("Three."))

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "compute", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "Three.", answer)
	assert.Nil(t, f.client.Requests()[1].Tools)
}

func TestErrorResponseEndsTurn(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	f.client.Push(llm.ErrorResponse(fmt.Errorf("boom")))

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "hi", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "Error calling LLM: boom", answer)
	assert.Equal(t, 1, len(f.client.Requests()))
}

func TestEmptyAnswerUsesFallback(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	f.client.Push(text("  "))

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "hi", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, FallbackResponse, answer)
}

func TestCodeActTextAnswerStripsTags(t *testing.T) {
	f := newFixture(t, ModeCodeAct)
	f.client.Push(text("<thought>easy</thought>\nThe answer is 4."))

	answer, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "2+2?", ProcessCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", answer)
}

func TestMissingToolCallIDIsGenerated(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	f.client.Push(toolCall("", "echo", map[string]any{"text": "x"}), text("ok"))

	_, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "hi", ProcessCallbacks{})
	require.NoError(t, err)
	msg := lastMessage(f.client.Requests()[1])
	assert.Regexp(t, `^call_[0-9a-f-]{36}$`, msg.ToolCallID)
}

func TestPromptModeDenials(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling, WithApprovalMode(ApprovalPrompt))
	f.client.Push(toolCall("c1", "echo", map[string]any{"text": "x"}), text("ok"))

	_, err := f.agent.ProcessMessage(context.Background(), "cli:direct", "hi", ProcessCallbacks{
		ShouldExecuteTool: func(session.ToolCall) bool { return false },
	})
	require.NoError(t, err)
	assert.Equal(t, "Error: tool call denied by user", lastMessage(f.client.Requests()[1]).Content)
	assert.Zero(t, f.echo.calls.Load())

	f = newFixture(t, ModeCodeAct, WithApprovalMode(ApprovalPrompt))
	f.client.Push(text("<execute>print(1)</execute>"), text("ok"))
	_, err = f.agent.ProcessMessage(context.Background(), "cli:direct", "hi", ProcessCallbacks{
		ShouldExecuteCode: func(string) bool { return false },
	})
	require.NoError(t, err)
	assert.Equal(t, "[Observation]\nError: code execution denied by user\n[/Observation]", lastMessage(f.client.Requests()[1]).Content)
}

func TestHistoryIsPersisted(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	f.client.Push(toolCall("c1", "echo", map[string]any{"text": "x"}), text("first"), text("second"))
	ctx := context.Background()

	_, err := f.agent.ProcessMessage(ctx, "cli:direct", "one", ProcessCallbacks{})
	require.NoError(t, err)
	_, err = f.agent.ProcessMessage(ctx, "cli:direct", "two", ProcessCallbacks{})
	require.NoError(t, err)

	// Only the user message and the final answer of each turn are kept.
	sess, err := f.sessions.GetOrCreate("cli:direct")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, "first", sess.Messages[1].Content)

	reqs := f.client.Requests()
	third := reqs[2].Messages
	require.Len(t, third, 4)
	assert.Equal(t, "one", third[1].Content)
	assert.Equal(t, "first", third[2].Content)
	assert.Equal(t, "two", third[3].Content)
}

func TestResetSession(t *testing.T) {
	f := newFixture(t, ModeCodeAct)
	ctx := context.Background()
	f.client.Push(text("<execute>x = 41</execute>"), text("stored"))
	_, err := f.agent.ProcessMessage(ctx, "cli:direct", "remember 41", ProcessCallbacks{})
	require.NoError(t, err)

	require.NoError(t, f.agent.ResetSession("cli:direct"))
	sess, err := f.sessions.GetOrCreate("cli:direct")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)

	var obs string
	f.client.Push(text("<execute>print(x)</execute>"), text("gone"))
	_, err = f.agent.ProcessMessage(ctx, "cli:direct", "what was it", ProcessCallbacks{
		OnObservation: func(o string) { obs = o },
	})
	require.NoError(t, err)
	assert.Contains(t, obs, "NameError")
}

func TestSessionStateIsReleased(t *testing.T) {
	f := newFixture(t, ModeCodeAct)
	ctx := context.Background()
	f.client.Push(text("<execute>x = 1</execute>"), text("ok"))
	_, err := f.agent.ProcessMessage(ctx, "ws:1", "set", ProcessCallbacks{})
	require.NoError(t, err)

	f.agent.mu.Lock()
	assert.Len(t, f.agent.executors, 1)
	assert.Empty(t, f.agent.locks)
	f.agent.mu.Unlock()

	require.NoError(t, f.agent.ResetSession("ws:1"))
	f.agent.mu.Lock()
	assert.Empty(t, f.agent.executors)
	assert.Empty(t, f.agent.locks)
	f.agent.mu.Unlock()
}

func TestSessionsHaveSeparateNamespaces(t *testing.T) {
	f := newFixture(t, ModeCodeAct)
	ctx := context.Background()
	f.client.Push(text("<execute>secret = 1</execute>"), text("ok"))
	_, err := f.agent.ProcessMessage(ctx, "cli:a", "set", ProcessCallbacks{})
	require.NoError(t, err)

	var obs string
	f.client.Push(text("<execute>print(secret)</execute>"), text("ok"))
	_, err = f.agent.ProcessMessage(ctx, "cli:b", "get", ProcessCallbacks{
		OnObservation: func(o string) { obs = o },
	})
	require.NoError(t, err)
	assert.Contains(t, obs, "NameError")
}

func TestNewRejectsInvalidModes(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sessions := session.NewManager(store)

	cfg := config.Default()
	cfg.ExecutionMode = "telepathy"
	_, err = New(cfg, llm.NewMockLLMClient(), nil, sessions)
	assert.ErrorIs(t, err, errors.ErrInvalidMode)

	cfg = config.Default()
	cfg.ApprovalMode = "sometimes"
	_, err = New(cfg, llm.NewMockLLMClient(), nil, sessions)
	assert.ErrorIs(t, err, errors.ErrInvalidMode)

	_, err = New(config.Default(), nil, nil, sessions)
	assert.Error(t, err)
}

func TestRunAnswersBusMessages(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	b := bus.New(4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.agent.Run(ctx, b) }()

	require.NoError(t, b.PublishInbound(ctx, bus.InboundMessage{Channel: "ws", ChatID: "42", Content: "ping"}))

	outCtx, outCancel := context.WithTimeout(ctx, 5*time.Second)
	defer outCancel()
	out, err := b.ConsumeOutbound(outCtx)
	require.NoError(t, err)
	assert.Equal(t, "ws", out.Channel)
	assert.Equal(t, "42", out.ChatID)
	assert.Equal(t, "I am a mock LLM. You said: 'ping'.", out.Content)

	_, err = f.sessions.GetOrCreate("ws:42")
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunResetCommand(t *testing.T) {
	f := newFixture(t, ModeFunctionCalling)
	b := bus.New(4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.agent.Run(ctx, b)

	consume := func() string {
		outCtx, outCancel := context.WithTimeout(ctx, 5*time.Second)
		defer outCancel()
		out, err := b.ConsumeOutbound(outCtx)
		require.NoError(t, err)
		return out.Content
	}

	require.NoError(t, b.PublishInbound(ctx, bus.InboundMessage{Channel: "ws", ChatID: "7", Content: "ping"}))
	consume()
	require.NoError(t, b.PublishInbound(ctx, bus.InboundMessage{Channel: "ws", ChatID: "7", Content: " /reset "}))
	assert.Equal(t, ResetReply, consume())

	sess, err := f.sessions.GetOrCreate("ws:7")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
	assert.Len(t, f.client.Requests(), 1)
}

// failingStore loads nothing and refuses to save.
type failingStore struct{}

func (failingStore) Load(string) (*session.Session, error) { return nil, errors.ErrSessionNotFound }
func (failingStore) Save(*session.Session) error           { return fmt.Errorf("disk full") }
func (failingStore) Delete(string) error                   { return nil }
func (failingStore) List() ([]session.Info, error)         { return nil, nil }
func (failingStore) Close() error                          { return nil }

func TestRunReportsErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	a, err := New(cfg, llm.NewMockLLMClient(), nil, session.NewManager(failingStore{}), WithLogger(logging.Discard()))
	require.NoError(t, err)

	b := bus.New(4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, b)

	require.NoError(t, b.PublishInbound(ctx, bus.InboundMessage{Channel: "cli", ChatID: "1", Content: "hi"}))
	outCtx, outCancel := context.WithTimeout(ctx, 5*time.Second)
	defer outCancel()
	out, err := b.ConsumeOutbound(outCtx)
	require.NoError(t, err)
	assert.Contains(t, out.Content, "Sorry, I encountered an error: ")
	assert.Contains(t, out.Content, "disk full")
}
