package main

import (
	"github.com/spf13/cobra"

	"github.com/m4xw311/spark/agent/acp"
	"github.com/m4xw311/spark/logging"
)

func newACPCmd(g *globalFlags) *cobra.Command {
	var (
		f     agentFlags
		trace bool
	)
	cmd := &cobra.Command{
		Use:   "acp",
		Short: "Serve the Agent Client Protocol on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			// stdout carries JSON-RPC frames only.
			logger := logging.Discard()

			a, cleanup, err := buildAgent(cmd.Context(), cfg, f, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			return acp.Run(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout(), trace)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "write a debug trace to "+acp.TraceFile)
	cmd.Flags().StringVar(&f.mode, "mode", "", "execution mode: function_calling, code_act or auto")
	cmd.Flags().StringVarP(&f.toolset, "toolset", "t", "", "toolset to use (default: 'default')")
	return cmd
}
