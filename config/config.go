package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m4xw311/spark/errors"
	"gopkg.in/yaml.v3"
)

const (
	DirName  = ".spark"
	FileName = "config.yaml"

	DefaultMaxIterations  = 20
	DefaultHistorySize    = 50
	DefaultCodeActTimeout = 30 * time.Second
	DefaultMaxOutput      = 4000
	DefaultMaxSteps       = 10_000_000
	DefaultShellTimeout   = 60 * time.Second
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env,omitempty"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type SessionConfig struct {
	Backend    string `yaml:"backend"` // file or sqlite
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type CodeActConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
	MaxSteps  uint64        `yaml:"max_steps"`
}

type WebSearchConfig struct {
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

type ToolsConfig struct {
	ShellTimeout time.Duration   `yaml:"shell_timeout"`
	WebSearch    WebSearchConfig `yaml:"web_search"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLMClient     string   `yaml:"llm"`
	Model         string   `yaml:"model"`
	APIBase       string   `yaml:"api_base,omitempty"`
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	ExecutionMode string   `yaml:"execution_mode"`
	ApprovalMode  string   `yaml:"approval_mode"`
	MaxIterations int      `yaml:"max_iterations"`
	HistorySize   int      `yaml:"history_size"`
	Workspace     string   `yaml:"workspace"`

	Session SessionConfig `yaml:"session"`
	CodeAct CodeActConfig `yaml:"codeact"`
	Tools   ToolsConfig   `yaml:"tools"`
	Log     LogConfig     `yaml:"log"`

	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// Default returns a config with every default applied and no files read.
func Default() *Config {
	cfg := &Config{
		LLMClient:     "anthropic",
		MaxTokens:     4096,
		ExecutionMode: "function_calling",
		ApprovalMode:  "auto",
		MaxIterations: DefaultMaxIterations,
		HistorySize:   DefaultHistorySize,
		Workspace:     filepath.Join("~", DirName, "workspace"),
		Session: SessionConfig{
			Backend:    "file",
			Dir:        filepath.Join("~", DirName, "sessions"),
			SQLitePath: filepath.Join("~", DirName, "sessions.db"),
		},
		CodeAct: CodeActConfig{
			Timeout:   DefaultCodeActTimeout,
			MaxOutput: DefaultMaxOutput,
			MaxSteps:  DefaultMaxSteps,
		},
		Tools: ToolsConfig{
			ShellTimeout: DefaultShellTimeout,
			WebSearch:    WebSearchConfig{MaxResults: 5},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
	// The config directory itself is never visible to tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, DirName, DirName+"/**")
	return cfg
}

// LoadConfig loads .env, then configuration from the user's home directory and
// the current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, FileName)
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, FileName)
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a single config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML overwrite earlier values; absent ones keep them.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SPARK_LLM"); v != "" {
		c.LLMClient = v
	}
	if v := os.Getenv("SPARK_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" && c.Tools.WebSearch.APIKey == "" {
		c.Tools.WebSearch.APIKey = v
	}
	if v := os.Getenv("SPARK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects unknown modes and non-positive limits.
func (c *Config) Validate() error {
	switch c.ExecutionMode {
	case "function_calling", "code_act", "auto":
	default:
		return errors.Wrapf(errors.ErrInvalidMode, "execution_mode %q", c.ExecutionMode)
	}
	switch c.ApprovalMode {
	case "auto", "prompt":
	default:
		return errors.Wrapf(errors.ErrInvalidMode, "approval_mode %q", c.ApprovalMode)
	}
	switch c.Session.Backend {
	case "file", "sqlite":
	default:
		return errors.New("session.backend must be file or sqlite, got %q", c.Session.Backend)
	}
	if c.MaxIterations <= 0 {
		return errors.New("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.HistorySize <= 0 {
		return errors.New("history_size must be positive, got %d", c.HistorySize)
	}
	if c.CodeAct.Timeout <= 0 {
		return errors.New("codeact.timeout must be positive")
	}
	if c.CodeAct.MaxOutput <= 0 {
		return errors.New("codeact.max_output must be positive, got %d", c.CodeAct.MaxOutput)
	}
	if c.Tools.ShellTimeout <= 0 {
		return errors.New("tools.shell_timeout must be positive")
	}
	return nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "encoding config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. A nil toolset with a
// nil error means no toolsets are configured and every tool is enabled.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if len(c.Toolsets) == 0 {
		return nil, nil
	}
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return c.GetToolset("default")
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// WorkspacePath is the expanded workspace directory.
func (c *Config) WorkspacePath() string { return ExpandPath(c.Workspace) }
