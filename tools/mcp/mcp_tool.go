package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/m4xw311/spark/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	conn   *mcpsdk.ClientSession
	tools  map[string]*MCPTool
	logger *slog.Logger
}

// NewMCPClient starts the MCP server subprocess over stdio and discovers the
// tools it provides.
func NewMCPClient(ctx context.Context, name, command string, args, env []string, logger *slog.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "spark", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	c := &MCPClient{Name: name, conn: conn, tools: make(map[string]*MCPTool), logger: logger}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			c.tools[t.Name] = &MCPTool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				schema:      schemaMap(t.InputSchema),
				client:      c,
			}
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	logger.Info("initialized MCP client", "server", name, "tools", len(c.tools))
	return c, nil
}

// schemaMap normalises the SDK's input schema into a plain JSON object.
func schemaMap(schema any) map[string]any {
	out := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return out
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return out
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}

// Tools returns the server's tools sorted by name.
func (c *MCPClient) Tools() []*MCPTool {
	out := make([]*MCPTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].toolName < out[j].toolName })
	return out
}

// GetTool returns a specific tool provided by this MCP server by its short name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Stop closes the session, which terminates the server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn == nil {
		return nil
	}
	c.logger.Debug("terminating MCP server", "server", c.Name)
	return c.conn.Close()
}

// MCPTool is a tool served by an external MCP server. It satisfies tools.Tool.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	schema      map[string]any
	client      *MCPClient
}

// Name is the server's own tool name; several providers reject ':' or '.'
// in function names.
func (t *MCPTool) Name() string { return t.toolName }

func (t *MCPTool) ServerName() string { return t.serverName }

func (t *MCPTool) Description() string { return t.description }

func (t *MCPTool) Parameters() map[string]any { return t.schema }

// Execute forwards the call and concatenates the text content of the result.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	out := strings.Join(parts, "\n")
	if result.IsError {
		return "Error: " + out, nil
	}
	return out, nil
}
