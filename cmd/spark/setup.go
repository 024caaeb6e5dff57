package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/m4xw311/spark/agent"
	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/llm"
	"github.com/m4xw311/spark/logging"
	"github.com/m4xw311/spark/session"
	"github.com/m4xw311/spark/tools"
)

func loadConfig(g *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: w})
}

func openSessions(ctx context.Context, cfg *config.Config) (*session.Manager, error) {
	store, err := session.OpenStore(ctx, cfg.Session.Backend,
		config.ExpandPath(cfg.Session.Dir), config.ExpandPath(cfg.Session.SQLitePath))
	if err != nil {
		return nil, err
	}
	return session.NewManager(store), nil
}

type agentFlags struct {
	mode      string
	approval  string
	toolset   string
	verbosity string
}

// buildAgent wires config, provider, tools and sessions into an agent.
// The returned cleanup closes MCP servers and the session store.
func buildAgent(ctx context.Context, cfg *config.Config, f agentFlags, logger *slog.Logger) (*agent.Agent, func(), error) {
	if f.mode != "" {
		cfg.ExecutionMode = f.mode
	}
	if f.approval != "" {
		cfg.ApprovalMode = f.approval
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	verbosity, err := agent.ParseToolVerbosity(f.verbosity)
	if err != nil {
		return nil, nil, err
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := openSessions(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	registry, err := tools.NewDefaultRegistry(ctx, cfg, f.toolset, logger)
	if err != nil {
		sessions.Close()
		return nil, nil, err
	}
	cleanup := func() {
		registry.Close()
		if err := sessions.Close(); err != nil {
			logger.Warn("closing session store", "error", err)
		}
	}

	a, err := agent.New(cfg, client, registry, sessions,
		agent.WithLogger(logger),
		agent.WithToolVerbosity(verbosity),
		agent.WithContextBuilder(agent.NewContextBuilder(cfg.WorkspacePath())),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Debug("agent ready",
		"llm", cfg.LLMClient,
		"model", cfg.Model,
		"mode", a.Mode(),
		"approval", a.ApprovalMode(),
		"tools", registry.Len())
	return a, cleanup, nil
}
