package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/m4xw311/spark/agent"
	"github.com/m4xw311/spark/agent/terminal"
	"github.com/m4xw311/spark/session"
)

func newAgentCmd(g *globalFlags) *cobra.Command {
	var (
		f         agentFlags
		message   string
		sessionID string
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "agent [prompt...]",
		Short: "Chat with the agent in the terminal",
		Long: `Chat with the agent. With -m the message is answered once and the
command exits; otherwise an interactive session starts, optionally with the
remaining arguments as the first prompt. Type /reset to clear the session
and /quit or /exit to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg, os.Stderr)
			if verbose {
				f.verbosity = "all"
			}

			a, cleanup, err := buildAgent(cmd.Context(), cfg, f, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			key := "cli:" + sessionID
			out := cmd.OutOrStdout()
			if message != "" {
				answer, err := a.ProcessMessage(cmd.Context(), key, message, agent.ProcessCallbacks{
					OnToolCall: func(tc session.ToolCall) {
						if a.Verbosity() >= agent.ToolVerbosityInfo {
							logger.Info("tool call", "tool", tc.Name, "args", tc.Args)
						}
					},
					OnCode: func(code string) {
						if a.Verbosity() == agent.ToolVerbosityAll {
							logger.Info("executing code", "code", code)
						}
					},
					OnWarning: func(w string) { logger.Warn(w) },
				})
				fmt.Fprintln(out, answer)
				return err
			}

			fmt.Fprintln(out, "Spark is ready. Type your prompt.")
			term := terminal.New(a,
				terminal.WithSessionKey(key),
				terminal.WithIO(cmd.InOrStdin(), out))
			return term.Run(cmd.Context(), strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "answer a single message and exit")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "direct", "session name")
	cmd.Flags().StringVar(&f.mode, "mode", "", "execution mode: function_calling, code_act or auto")
	cmd.Flags().StringVar(&f.approval, "approval", "", "approval mode: auto or prompt")
	cmd.Flags().StringVarP(&f.toolset, "toolset", "t", "", "toolset to use (default: 'default')")
	cmd.Flags().StringVar(&f.verbosity, "tool-verbosity", "info", "tool output: none, info or all")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show tool arguments, code and results")
	return cmd
}
