package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/tools/mcp"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON schema object with type, properties and required.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Spec is the immutable description of a registered tool.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Required    []string
}

// Schema is the OpenAI-style function schema sent to providers.
type Schema struct {
	Type     string         `json:"type"`
	Function SchemaFunction `json:"function"`
}

type SchemaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SpecOf derives the Spec of t.
func SpecOf(t Tool) Spec {
	params := t.Parameters()
	if params == nil {
		params = ObjectSchema(nil)
	}
	return Spec{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  params,
		Required:    RequiredOf(params),
	}
}

// Properties returns the "properties" object of the spec's schema.
func (s Spec) Properties() map[string]any {
	props, _ := s.Parameters["properties"].(map[string]any)
	return props
}

// RequiredOf returns the "required" list of a JSON schema object.
func RequiredOf(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return append([]string(nil), req...)
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ObjectSchema builds a JSON schema object from property schemas.
func ObjectSchema(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

// Prop is a single-type property schema.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// ToolRegistry holds all available tools. It is safe for concurrent use.
type ToolRegistry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
	logger     *slog.Logger
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
		logger:     logger,
	}
}

// NewDefaultRegistry registers the built-in tools and every tool of the
// configured MCP servers, then narrows the set to the named toolset.
func NewDefaultRegistry(ctx context.Context, cfg *config.Config, toolset string, logger *slog.Logger) (*ToolRegistry, error) {
	r := NewToolRegistry(logger)

	fs := &cfg.FilesystemAccess
	r.Register(&ReadFileTool{fsAccess: fs})
	r.Register(&WriteFileTool{fsAccess: fs})
	r.Register(&ListDirectoryTool{fsAccess: fs})
	r.Register(&EditFileTool{fsAccess: fs})
	r.Register(NewShellTool(cfg.AllowedCommands, cfg.Tools.ShellTimeout, ""))
	r.Register(NewWebSearchTool(cfg.Tools.WebSearch.APIKey, cfg.Tools.WebSearch.MaxResults))
	r.Register(NewWebFetchTool(0))

	for _, srv := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(ctx, srv.Name, srv.Command, srv.Args, srv.Env, r.logger)
		if err != nil {
			// One broken server should not take the agent down.
			r.logger.Warn("skipping MCP server", "server", srv.Name, "error", err)
			continue
		}
		r.mcpClients[srv.Name] = client
		for _, t := range client.Tools() {
			r.Register(t)
		}
	}

	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		r.Close()
		return nil, err
	}
	if ts != nil {
		if err := r.Restrict(ts); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Register adds t, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		r.logger.Warn("tool registered twice, replacing", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

// Unregister removes the named tool. Unknown names are ignored.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs returns the specs of all tools, sorted by name.
func (r *ToolRegistry) Specs() []Spec {
	names := r.Names()
	specs := make([]Spec, 0, len(names))
	for _, n := range names {
		if t, ok := r.Get(n); ok {
			specs = append(specs, SpecOf(t))
		}
	}
	return specs
}

// Schemas returns provider-facing function schemas for all tools.
func (r *ToolRegistry) Schemas() []Schema {
	specs := r.Specs()
	out := make([]Schema, 0, len(specs))
	for _, s := range specs {
		out = append(out, Schema{
			Type:     "function",
			Function: SchemaFunction{Name: s.Name, Description: s.Description, Parameters: s.Parameters},
		})
	}
	return out
}

// Dispatch runs the named tool and always returns a string. Unknown tools,
// missing required arguments, returned errors and panics are reported as
// "Error..." strings.
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, args map[string]any) (result string) {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: Tool '%s' not found", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	for _, req := range RequiredOf(t.Parameters()) {
		if _, ok := args[req]; !ok {
			return fmt.Sprintf("Error executing %s: missing required argument '%s'", name, req)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p, "stack", string(debug.Stack()))
			result = fmt.Sprintf("Error executing %s: %v", name, p)
		}
	}()

	r.logger.Debug("executing tool", "tool", name)
	out, err := t.Execute(ctx, args)
	if err != nil {
		r.logger.Debug("tool failed", "tool", name, "error", err)
		return fmt.Sprintf("Error executing %s: %s", name, err.Error())
	}
	return out
}

// Restrict keeps only the tools selected by ts. Entries are glob patterns over
// tool names; "<server>:<pattern>" selects tools of one MCP server.
func (r *ToolRegistry) Restrict(ts *config.Toolset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := make(map[string]bool)
	for _, entry := range ts.Tools {
		matched := false
		if server, pattern, ok := strings.Cut(entry, ":"); ok {
			client, found := r.mcpClients[server]
			if !found {
				return errors.New("toolset '%s' references unknown MCP server '%s'", ts.Name, server)
			}
			for _, t := range client.Tools() {
				if ok, _ := doublestar.Match(pattern, t.Name()); ok {
					keep[t.Name()] = true
					matched = true
				}
			}
		} else {
			if !doublestar.ValidatePattern(entry) {
				return errors.New("invalid tool pattern '%s' in toolset '%s'", entry, ts.Name)
			}
			for n := range r.tools {
				if ok, _ := doublestar.Match(entry, n); ok {
					keep[n] = true
					matched = true
				}
			}
		}
		if !matched {
			return errors.New("tool '%s' from toolset '%s' is not registered", entry, ts.Name)
		}
	}
	for n := range r.tools {
		if !keep[n] {
			delete(r.tools, n)
		}
	}
	return nil
}

// Close stops every MCP server started by the registry.
func (r *ToolRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.mcpClients {
		if err := c.Stop(); err != nil {
			r.logger.Debug("stopping MCP server", "server", name, "error", err)
		}
	}
	r.mcpClients = make(map[string]*mcp.MCPClient)
}

var pyTypes = map[string]string{
	"string":  "str",
	"integer": "int",
	"number":  "float",
	"boolean": "bool",
	"array":   "list",
	"object":  "dict",
}

// ParamOrder lists the spec's parameters in call order: required ones as
// declared, then optional ones sorted by name.
func ParamOrder(s Spec) []string {
	required := make(map[string]bool, len(s.Required))
	order := append([]string(nil), s.Required...)
	for _, name := range s.Required {
		required[name] = true
	}
	var optional []string
	for name := range s.Properties() {
		if !required[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	return append(order, optional...)
}

// FormatSignature renders a spec as a Python-style call signature, required
// parameters first, e.g. read_file(path: str, max_lines: int | None = None).
func FormatSignature(s Spec) string {
	props := s.Properties()
	params := make([]string, 0, len(props))
	for i, name := range ParamOrder(s) {
		if i < len(s.Required) {
			params = append(params, fmt.Sprintf("%s: %s", name, pyType(props[name])))
		} else {
			params = append(params, fmt.Sprintf("%s: %s | None = None", name, pyType(props[name])))
		}
	}
	return fmt.Sprintf("%s(%s)", s.Name, strings.Join(params, ", "))
}

func pyType(prop any) string {
	m, _ := prop.(map[string]any)
	typ, _ := m["type"].(string)
	if py, ok := pyTypes[typ]; ok {
		return py
	}
	return "Any"
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
// An empty allowlist allows everything.
func isCommandAllowed(command string, allowed []string, logger *slog.Logger) bool {
	if len(allowed) == 0 {
		return true
	}
	if len(strings.Fields(command)) == 0 {
		return false
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn("invalid regex in allowed_commands", "pattern", pattern, "error", err)
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// Argument helpers. Providers deliver numbers as float64 or int depending on
// the decoder, so numeric helpers accept both.

func stringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "True" || v == "1"
	}
	return false
}
