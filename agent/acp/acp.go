package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/m4xw311/spark/agent"
	"github.com/m4xw311/spark/errors"
	"github.com/m4xw311/spark/logging"
	"github.com/m4xw311/spark/session"
)

const (
	ProtocolVersion = 1

	// TraceFile receives the server's debug log when tracing is enabled.
	TraceFile = "acp.trace"

	// Agent session keys are the ACP session id under this channel.
	channel = "acp"

	maxResourceSize = 50000
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Run serves the Agent Client Protocol over in and out until in is closed.
// Messages are newline-delimited JSON-RPC objects; nothing but protocol
// frames is written to out. With trace set, debug logs go to TraceFile.
func Run(ctx context.Context, a *agent.Agent, in io.Reader, out io.Writer, trace bool) error {
	logger := logging.Discard()
	if trace {
		f, err := os.OpenFile(TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrapf(err, "opening trace file")
		}
		defer f.Close()
		logger = logging.New(logging.Options{Level: "debug", Format: "json", Output: f})
	}
	return NewServer(a, logger).Serve(ctx, in, out)
}

// Server handles initialize, session/new, session/load and session/prompt.
// Prompt turns emit session/update notifications for agent messages, tool
// calls, code executions and their results.
type Server struct {
	agent  *agent.Agent
	logger *slog.Logger

	writeMu sync.Mutex
	out     *bufio.Writer
}

func NewServer(a *agent.Agent, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{agent: a, logger: logger}
}

func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = bufio.NewWriter(out)
	reader := bufio.NewReader(in)
	s.logger.Debug("acp server started")

	for {
		line, err := reader.ReadBytes('\n')
		payload := strings.TrimSpace(string(line))
		if payload != "" {
			s.dispatch(ctx, []byte(payload))
		}
		if err == io.EOF {
			s.logger.Debug("acp input closed")
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "ACP: read error")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

func (s *Server) dispatch(ctx context.Context, payload []byte) {
	s.logger.Debug("received", "payload", string(payload))

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Debug("parse error", "error", err)
		s.writeError(nil, codeParseError, "Parse error", nil)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(&req)
	case "session/new":
		s.handleSessionNew(&req)
	case "session/load":
		s.handleSessionLoad(&req)
	case "session/prompt":
		s.handleSessionPrompt(ctx, &req)
	default:
		if req.ID == nil {
			// Unknown notifications are ignored.
			return
		}
		s.writeError(req.ID, codeMethodNotFound, "Method not found", nil)
	}
}

func (s *Server) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshalling frame", "error", err)
		return
	}
	s.logger.Debug("sending", "payload", string(data))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(data)
	s.out.WriteByte('\n')
	if err := s.out.Flush(); err != nil {
		s.logger.Error("writing frame", "error", err)
	}
}

func (s *Server) writeResult(id, result any) {
	s.write(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id any, code int, msg string, data any) {
	s.write(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg, Data: data}})
}

func (s *Server) update(sessionID string, update map[string]any) {
	s.write(notification{
		JSONRPC: "2.0",
		Method:  "session/update",
		Params:  map[string]any{"sessionId": sessionID, "update": update},
	})
}

func textContent(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func (s *Server) sendMessageChunk(sessionID, kind, text string) {
	s.update(sessionID, map[string]any{"sessionUpdate": kind, "content": textContent(text)})
}

func (s *Server) sendToolCall(sessionID string, tc session.ToolCall) {
	s.update(sessionID, map[string]any{
		"sessionUpdate": "tool_call",
		"toolCall": map[string]any{
			"id":   tc.ToolCallID,
			"name": tc.Name,
			"args": tc.Args,
		},
	})
}

func (s *Server) sendToolResult(sessionID, toolCallID, result string) {
	s.update(sessionID, map[string]any{
		"sessionUpdate": "tool_result",
		"toolResult": map[string]any{
			"toolCallId": toolCallID,
			"result":     result,
		},
	})
}

// decode unmarshals params, answering the request with an error on failure.
func (s *Server) decode(req *request, v any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return false
	}
	return true
}

func (s *Server) handleInitialize(req *request) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if !s.decode(req, &p) {
		return
	}
	s.logger.Debug("initialize", "client_protocol", p.ProtocolVersion)

	s.writeResult(req.ID, map[string]any{
		"protocolVersion": ProtocolVersion,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func sessionKey(id string) string { return channel + ":" + id }

func (s *Server) handleSessionNew(req *request) {
	var p struct {
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if !s.decode(req, &p) {
		return
	}

	sid := "sess_" + uuid.NewString()
	sess, err := s.agent.Sessions().GetOrCreate(sessionKey(sid))
	if err == nil {
		err = s.agent.Sessions().Save(sess)
	}
	if err != nil {
		s.logger.Error("creating session", "session", sid, "error", err)
		s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	s.logger.Debug("session created", "session", sid, "cwd", p.Cwd)
	s.writeResult(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad replays a stored conversation as message chunks.
func (s *Server) handleSessionLoad(req *request) {
	var p struct {
		SessionID  string          `json:"sessionId"`
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if !s.decode(req, &p) {
		return
	}

	sess, err := s.agent.Sessions().Get(sessionKey(p.SessionID))
	if err != nil {
		s.logger.Debug("loading session", "session", p.SessionID, "error", err)
		s.writeError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %s", p.SessionID))
		return
	}

	for _, msg := range sess.Messages {
		switch msg.Role {
		case session.RoleUser:
			s.sendMessageChunk(p.SessionID, "user_message_chunk", msg.Content)
		case session.RoleAssistant:
			if msg.Content != "" {
				s.sendMessageChunk(p.SessionID, "agent_message_chunk", msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				s.sendToolCall(p.SessionID, tc)
			}
		case session.RoleTool:
			s.sendToolResult(p.SessionID, msg.ToolCallID, msg.Content)
		}
	}
	s.writeResult(req.ID, json.RawMessage("null"))
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// resource_link fields
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

func (s *Server) handleSessionPrompt(ctx context.Context, req *request) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if !s.decode(req, &p) {
		return
	}
	key := sessionKey(p.SessionID)
	if _, err := s.agent.Sessions().Get(key); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	text := extractUserText(p.Prompt)
	if strings.TrimSpace(text) == "" {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "empty prompt")
		return
	}

	// Code executions are reported as calls of a pseudo tool.
	var codeCallID string
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			s.sendMessageChunk(p.SessionID, "agent_message_chunk", message)
		},
		OnToolCall: func(tc session.ToolCall) {
			s.sendToolCall(p.SessionID, tc)
		},
		OnToolResult: func(tc session.ToolCall, result string) {
			s.sendToolResult(p.SessionID, tc.ToolCallID, result)
		},
		OnCode: func(code string) {
			codeCallID = "code_" + uuid.NewString()
			s.sendToolCall(p.SessionID, session.ToolCall{
				ToolCallID: codeCallID,
				Name:       "execute_code",
				Args:       map[string]any{"code": code},
			})
		},
		OnObservation: func(output string) {
			s.sendToolResult(p.SessionID, codeCallID, output)
		},
		OnWarning: func(warning string) {
			s.logger.Warn("agent warning", "session", p.SessionID, "warning", warning)
		},
	}

	if _, err := s.agent.ProcessMessage(ctx, key, text, callbacks); err != nil {
		s.logger.Error("processing prompt", "session", p.SessionID, "error", err)
		s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("error processing user input: %v", err))
		return
	}

	stop := "end_turn"
	if ctx.Err() != nil {
		stop = "cancelled"
	}
	s.writeResult(req.ID, map[string]any{"stopReason": stop})
}

// readFileFromURI reads the file behind a file:// URI.
func readFileFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI: %v", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported URI scheme: %s", u.Scheme)
	}
	content, err := os.ReadFile(u.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}
	return string(content), nil
}

// extractUserText flattens prompt blocks into one message. Linked files are
// inlined up to maxResourceSize bytes.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if r := []rune(content); len(r) > maxResourceSize {
				content = string(r[:maxResourceSize]) + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}
