package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/spark/bus"
	"github.com/m4xw311/spark/codeact"
	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/llm"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

// FallbackResponse is returned when a turn ends without any text.
const FallbackResponse = "I've completed processing but have no response."

// ResetCommand, sent as a whole message, clears the session instead of
// starting a turn.
const (
	ResetCommand = "/reset"
	ResetReply   = "Session cleared."
)

const pollInterval = time.Second

// ProcessCallbacks let front ends observe and gate a turn. Every field is
// optional.
type ProcessCallbacks struct {
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	OnCode             func(code string)
	OnObservation      func(output string)
	// ShouldExecuteTool and ShouldExecuteCode are consulted in prompt mode.
	ShouldExecuteTool func(toolCall session.ToolCall) bool
	ShouldExecuteCode func(code string) bool
	OnWarning         func(warning string)
}

func (c ProcessCallbacks) onAssistantMessage(m string) {
	if c.OnAssistantMessage != nil {
		c.OnAssistantMessage(m)
	}
}

func (c ProcessCallbacks) onToolCall(tc session.ToolCall) {
	if c.OnToolCall != nil {
		c.OnToolCall(tc)
	}
}

func (c ProcessCallbacks) onToolResult(tc session.ToolCall, result string) {
	if c.OnToolResult != nil {
		c.OnToolResult(tc, result)
	}
}

func (c ProcessCallbacks) onCode(code string) {
	if c.OnCode != nil {
		c.OnCode(code)
	}
}

func (c ProcessCallbacks) onObservation(out string) {
	if c.OnObservation != nil {
		c.OnObservation(out)
	}
}

func (c ProcessCallbacks) onWarning(w string) {
	if c.OnWarning != nil {
		c.OnWarning(w)
	}
}

// shouldExecuteTool returns the decision and whether anyone was asked.
func (c ProcessCallbacks) shouldExecuteTool(tc session.ToolCall) (bool, bool) {
	if c.ShouldExecuteTool == nil {
		return true, false
	}
	return c.ShouldExecuteTool(tc), true
}

func (c ProcessCallbacks) shouldExecuteCode(code string) (bool, bool) {
	if c.ShouldExecuteCode == nil {
		return true, false
	}
	return c.ShouldExecuteCode(code), true
}

// Agent runs conversation turns against an LLM, with tools reached either
// through structured function calls or through generated code.
type Agent struct {
	cfg      *config.Config
	client   llm.LLMClient
	registry *tools.ToolRegistry
	sessions *session.Manager
	builder  *ContextBuilder
	logger   *slog.Logger

	mode          ExecutionMode
	approval      ApprovalMode
	verbosity     ToolVerbosity
	maxIterations int

	mu        sync.Mutex
	executors map[string]*codeact.Executor
	locks     map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

type Option func(*Agent)

func WithExecutionMode(m ExecutionMode) Option {
	return func(a *Agent) { a.mode = m }
}

func WithApprovalMode(m ApprovalMode) Option {
	return func(a *Agent) { a.approval = m }
}

func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithContextBuilder(b *ContextBuilder) Option {
	return func(a *Agent) { a.builder = b }
}

func WithToolVerbosity(v ToolVerbosity) Option {
	return func(a *Agent) { a.verbosity = v }
}

// New creates an agent. Modes and limits come from cfg unless overridden by
// options. A nil registry exposes no tools.
func New(cfg *config.Config, client llm.LLMClient, registry *tools.ToolRegistry, sessions *session.Manager, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if client == nil {
		return nil, errors.New("agent needs an llm client")
	}
	if sessions == nil {
		return nil, errors.New("agent needs a session manager")
	}
	mode, err := ParseExecutionMode(cfg.ExecutionMode)
	if err != nil {
		return nil, err
	}
	approval, err := ParseApprovalMode(cfg.ApprovalMode)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:           cfg,
		client:        client,
		registry:      registry,
		sessions:      sessions,
		logger:        slog.Default(),
		mode:          mode,
		approval:      approval,
		verbosity:     ToolVerbosityInfo,
		maxIterations: cfg.MaxIterations,
		executors:     make(map[string]*codeact.Executor),
		locks:         make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = tools.NewToolRegistry(a.logger)
	}
	if a.builder == nil {
		a.builder = NewContextBuilder(cfg.WorkspacePath())
	}
	if a.maxIterations <= 0 {
		a.maxIterations = config.DefaultMaxIterations
	}
	if _, err := ParseExecutionMode(string(a.mode)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Agent) Mode() ExecutionMode           { return a.mode }
func (a *Agent) ApprovalMode() ApprovalMode    { return a.approval }
func (a *Agent) Verbosity() ToolVerbosity      { return a.verbosity }
func (a *Agent) Sessions() *session.Manager    { return a.sessions }
func (a *Agent) Registry() *tools.ToolRegistry { return a.registry }

// ProcessMessage runs one turn for the session and returns the final answer.
// Only session persistence failures are returned as errors; everything else
// ends up in the answer.
func (a *Agent) ProcessMessage(ctx context.Context, key, content string, cb ProcessCallbacks) (string, error) {
	defer a.lockSession(key)()

	sess, err := a.sessions.GetOrCreate(key)
	if err != nil {
		return "", err
	}

	mode := a.resolveMode(ctx, content)
	var strat strategy
	if mode == ModeCodeAct {
		strat = &codeAct{executor: a.executor(key)}
	} else {
		strat = &functionCalling{registry: a.registry}
	}

	t := &turn{
		key:      key,
		messages: a.builder.BuildMessages(sess.History(a.cfg.HistorySize), content, mode, a.registry.Specs()),
		cb:       cb,
		approval: a.approval,
	}
	start := time.Now()
	answer, iterations := a.loop(ctx, strat, t)
	a.logger.Info("turn complete",
		"session", key,
		"mode", mode,
		"iterations", iterations,
		"actions", t.steps,
		"prompt_tokens", t.usage.PromptTokens,
		"completion_tokens", t.usage.CompletionTokens,
		"duration", time.Since(start))

	cb.onAssistantMessage(answer)

	sess.AddMessage(session.RoleUser, content)
	sess.AddMessage(session.RoleAssistant, answer)
	if err := a.sessions.Save(sess); err != nil {
		return answer, err
	}
	return answer, nil
}

func (a *Agent) loop(ctx context.Context, strat strategy, t *turn) (string, int) {
	schemas := strat.tools()
	for i := 1; i <= a.maxIterations; i++ {
		resp := a.client.Chat(ctx, &llm.ChatRequest{
			Messages:    t.messages,
			Tools:       schemas,
			Model:       a.cfg.Model,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		})
		t.usage.PromptTokens += resp.Usage.PromptTokens
		t.usage.CompletionTokens += resp.Usage.CompletionTokens

		if resp.IsError() {
			a.logger.Warn("llm call failed", "session", t.key, "iteration", i, "error", resp.Content)
			return resp.Content, i
		}
		if answer, done := strat.handle(ctx, resp, t); done {
			if strings.TrimSpace(answer) == "" {
				return FallbackResponse, i
			}
			return answer, i
		}
	}
	msg := fmt.Sprintf("stopped after %d iterations without a final answer", a.maxIterations)
	a.logger.Warn(msg, "session", t.key)
	t.cb.onWarning(msg)
	return FallbackResponse, a.maxIterations
}

func (a *Agent) resolveMode(ctx context.Context, content string) ExecutionMode {
	if a.mode != ModeAuto {
		return a.mode
	}
	mode := SelectMode(ctx, a.client, a.cfg.Model, content)
	a.logger.Debug("selected execution mode", "mode", mode)
	return mode
}

// lockSession serializes turns on one session. The entry is removed once
// nobody holds or waits for it.
func (a *Agent) lockSession(key string) (unlock func()) {
	a.mu.Lock()
	l, ok := a.locks[key]
	if !ok {
		l = &sessionLock{}
		a.locks[key] = l
	}
	l.refs++
	a.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, key)
		}
		a.mu.Unlock()
	}
}

// executor returns the session's code executor, creating it on first use.
func (a *Agent) executor(key string) *codeact.Executor {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.executors[key]
	if !ok {
		e = codeact.NewExecutor(a.registry,
			codeact.WithTimeout(a.cfg.CodeAct.Timeout),
			codeact.WithMaxOutput(a.cfg.CodeAct.MaxOutput),
			codeact.WithMaxSteps(a.cfg.CodeAct.MaxSteps),
			codeact.WithLogger(a.logger.With("session", key)),
		)
		a.executors[key] = e
	}
	return e
}

// ResetSession clears the session's history and drops its code namespace.
func (a *Agent) ResetSession(key string) error {
	defer a.lockSession(key)()

	a.mu.Lock()
	delete(a.executors, key)
	a.mu.Unlock()

	sess, err := a.sessions.GetOrCreate(key)
	if err != nil {
		return err
	}
	sess.Clear()
	return a.sessions.Save(sess)
}

// Run consumes inbound messages from b one at a time and publishes the
// answers until ctx is done.
func (a *Agent) Run(ctx context.Context, b *bus.MessageBus) error {
	a.logger.Info("agent loop started", "mode", a.mode)
	for {
		if err := ctx.Err(); err != nil {
			a.logger.Info("agent loop stopped")
			return err
		}
		pollCtx, cancel := context.WithTimeout(ctx, pollInterval)
		msg, err := b.ConsumeInbound(pollCtx)
		cancel()
		if err != nil {
			continue
		}

		a.logger.Debug("processing message", "channel", msg.Channel, "sender", msg.SenderID, "chat_id", msg.ChatID)
		var answer string
		if strings.TrimSpace(msg.Content) == ResetCommand {
			err = a.ResetSession(msg.SessionKey())
			answer = ResetReply
		} else {
			answer, err = a.ProcessMessage(ctx, msg.SessionKey(), msg.Content, ProcessCallbacks{})
		}
		if err != nil {
			a.logger.Error("processing message", "session", msg.SessionKey(), "error", err)
			answer = fmt.Sprintf("Sorry, I encountered an error: %v", err)
		}
		out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: answer}
		if err := b.PublishOutbound(ctx, out); err != nil {
			return err
		}
	}
}
