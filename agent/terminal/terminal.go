package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m4xw311/spark/agent"
	"github.com/m4xw311/spark/session"
)

// DefaultSessionKey is used when no session is named on the command line.
const DefaultSessionKey = "cli:direct"

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent *agent.Agent
	key   string
	in    *bufio.Scanner
	out   io.Writer
}

type Option func(*Terminal)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.in = bufio.NewScanner(in)
		t.out = out
	}
}

func WithSessionKey(key string) Option {
	return func(t *Terminal) {
		if key != "" {
			t.key = key
		}
	}
}

// New creates a new Terminal instance
func New(a *agent.Agent, opts ...Option) *Terminal {
	t := &Terminal{
		agent: a,
		key:   DefaultSessionKey,
		in:    bufio.NewScanner(os.Stdin),
		out:   os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		if !t.in.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(t.in.Text())
		switch userInput {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case agent.ResetCommand:
			if err := t.agent.ResetSession(t.key); err != nil {
				fmt.Fprintf(t.out, "Error: %v\n", err)
			} else {
				fmt.Fprintln(t.out, agent.ResetReply)
			}
			continue
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return t.in.Err()
}

// processTurn handles a single user input turn
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	verbosity := t.agent.Verbosity()
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			fmt.Fprintf(t.out, "Spark: %s\n", message)
		},
		OnToolCall: func(toolCall session.ToolCall) {
			switch verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintf(t.out, "Spark wants to call tool `%s` with args: %v\n", toolCall.Name, toolCall.Args)
			case agent.ToolVerbosityInfo:
				fmt.Fprintf(t.out, "Spark wants to call tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if verbosity == agent.ToolVerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		OnCode: func(code string) {
			switch verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintf(t.out, "Spark wants to run code:\n%s\n", code)
			case agent.ToolVerbosityInfo:
				fmt.Fprintln(t.out, "Spark wants to run code")
			}
		},
		OnObservation: func(output string) {
			if verbosity == agent.ToolVerbosityAll {
				fmt.Fprintf(t.out, "Code output: %s\n", output)
			}
		},
		ShouldExecuteTool: func(session.ToolCall) bool { return t.confirm() },
		ShouldExecuteCode: func(string) bool { return t.confirm() },
		OnWarning: func(warning string) {
			fmt.Fprintf(t.out, "Warning: %s\n", warning)
		},
	}

	_, err := t.agent.ProcessMessage(ctx, t.key, userInput, callbacks)
	return err
}

// confirm asks the user in prompt mode and always allows in auto mode.
func (t *Terminal) confirm() bool {
	if t.agent.ApprovalMode() != agent.ApprovalPrompt {
		return true
	}
	fmt.Fprint(t.out, "Do you want to allow this? (y/n): ")
	if !t.in.Scan() {
		return false
	}
	return strings.TrimSpace(strings.ToLower(t.in.Text())) == "y"
}
