// Package channels connects chat front ends to the message bus.
package channels

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/m4xw311/spark/bus"
	"github.com/m4xw311/spark/errors"
)

// WebSocketChannel is the bus channel name of websocket chats.
const WebSocketChannel = "ws"

const writeTimeout = 10 * time.Second

// Frame is the JSON message exchanged with websocket clients. Clients send
// {"type":"message","content":"..."}; the server answers with "ready" once
// connected and "message" for every reply.
type Frame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// WebSocket serves chats over websocket connections. Each connection is one
// chat, named by the chat_id query parameter or a generated id.
type WebSocket struct {
	bus      *bus.MessageBus
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsConn
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(f)
}

// NewWebSocket registers the channel's outbound handler on b.
func NewWebSocket(b *bus.MessageBus, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebSocket{
		bus:    b,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*wsConn),
	}
	b.OnOutbound(WebSocketChannel, w.deliver)
	return w
}

func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = uuid.NewString()
	}
	c := &wsConn{conn: conn}
	w.register(chatID, c)
	defer w.unregister(chatID, c)

	logger := w.logger.With("chat_id", chatID, "remote", r.RemoteAddr)
	logger.Info("websocket chat connected")
	if err := c.send(Frame{Type: "ready", ChatID: chatID}); err != nil {
		logger.Warn("websocket write failed", "error", err)
		return
	}

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			logger.Info("websocket chat disconnected")
			return
		}
		if f.Content == "" {
			continue
		}
		err := w.bus.PublishInbound(r.Context(), bus.InboundMessage{
			Channel:  WebSocketChannel,
			SenderID: r.RemoteAddr,
			ChatID:   chatID,
			Content:  f.Content,
		})
		if err != nil {
			logger.Warn("publishing inbound message", "error", err)
			return
		}
	}
}

func (w *WebSocket) register(chatID string, c *wsConn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.conns[chatID]; ok {
		// A reconnect takes over the chat.
		old.conn.Close()
	}
	w.conns[chatID] = c
}

func (w *WebSocket) unregister(chatID string, c *wsConn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conns[chatID] == c {
		delete(w.conns, chatID)
	}
}

// Connected reports the number of open chats.
func (w *WebSocket) Connected() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.conns)
}

func (w *WebSocket) deliver(_ context.Context, msg bus.OutboundMessage) error {
	w.mu.Lock()
	c, ok := w.conns[msg.ChatID]
	w.mu.Unlock()
	if !ok {
		return errors.New("no websocket connection for chat %s", msg.ChatID)
	}
	return c.send(Frame{Type: "message", ChatID: msg.ChatID, Content: msg.Content})
}
