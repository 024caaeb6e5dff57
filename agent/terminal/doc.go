// Package terminal implements the command-line interface (CLI) mode for the Spark agent.
//
// Users type messages at a "You:" prompt and see the agent's answers, tool calls
// and code executions as they happen. /reset clears the session's history and
// code namespace; /quit and /exit end the session.
//
// # Usage
//
//	term := terminal.New(a, terminal.WithSessionKey("cli:notes"))
//	err = term.Run(ctx, initialPrompt)
//
// # Features
//
//   - Support for initial prompts from command-line arguments
//   - Confirmation of tool calls and code execution in prompt mode
//   - Configurable verbosity for tool and code output
package terminal
