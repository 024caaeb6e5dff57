// Package agent runs conversation turns for Spark.
//
// A turn takes a user message for a session, builds the prompt from the
// workspace (identity, bootstrap files, memory) and the session history, and
// calls the LLM until it produces a final answer or the iteration limit is
// reached. Tools are reached in one of two execution modes:
//
//   - ModeFunctionCalling: the model requests tools through structured calls
//     which are dispatched through the tool registry one at a time.
//   - ModeCodeAct: the model writes code in <execute> blocks which runs in
//     the session's sandboxed executor, with every tool exposed as a
//     function. The output comes back as an [Observation] message.
//
// ModeAuto asks the model to classify each message first.
//
// # Usage
//
//	a, err := agent.New(cfg, client, registry, sessions)
//	if err != nil {
//	    // handle error
//	}
//	answer, err := a.ProcessMessage(ctx, "cli:direct", "list my files", agent.ProcessCallbacks{
//	    OnToolCall: func(tc session.ToolCall) { fmt.Println("running", tc.Name) },
//	})
//
// Front ends observe a turn through ProcessCallbacks. In ApprovalPrompt mode
// ShouldExecuteTool and ShouldExecuteCode gate every action; a denied action
// is reported back to the model as an error result.
//
// Run connects the agent to a bus.MessageBus and answers inbound messages
// from any channel.
//
// # Subpackages
//
// agent/terminal: interactive command-line front end.
//
// agent/acp: Agent Client Protocol server for IDE integration over stdio.
package agent
