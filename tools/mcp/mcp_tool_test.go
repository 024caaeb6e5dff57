package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaMap(t *testing.T) {
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, schemaMap(nil))

	in := map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
		"required":   []string{"q"},
	}
	out := schemaMap(in)
	assert.Equal(t, "object", out["type"])
	assert.Equal(t, []any{"q"}, out["required"])
	props := out["properties"].(map[string]any)
	assert.Contains(t, props, "q")

	assert.Contains(t, schemaMap(map[string]any{"type": "object"}), "properties")
}

func TestToolsSorted(t *testing.T) {
	c := &MCPClient{tools: map[string]*MCPTool{
		"b": {toolName: "b", serverName: "srv"},
		"a": {toolName: "a", serverName: "srv"},
	}}
	ts := c.Tools()
	assert.Equal(t, "a", ts[0].Name())
	assert.Equal(t, "b", ts[1].Name())
	assert.Equal(t, "srv", ts[0].ServerName())

	_, ok := c.GetTool("a")
	assert.True(t, ok)
	assert.NoError(t, (&MCPClient{}).Stop())
}
