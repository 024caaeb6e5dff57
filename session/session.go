package session

import (
	"context"
	"sync"
	"time"

	"github.com/m4xw311/spark/errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model. The ID is echoed on
// the tool-result message.
type ToolCall struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
}

type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// Session is the persisted history of one conversation.
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty session.
func New(key string) *Session {
	now := time.Now()
	return &Session{Key: key, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(role, content string) {
	now := time.Now()
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: now})
	s.UpdatedAt = now
}

// History returns the last max messages in role/content form. max <= 0
// returns everything.
func (s *Session) History(max int) []Message {
	msgs := s.Messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Clear drops all messages.
func (s *Session) Clear() {
	s.Messages = []Message{}
	s.UpdatedAt = time.Now()
}

// Info summarises a stored session for listings.
type Info struct {
	Key       string
	Messages  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists sessions. Load returns errors.ErrSessionNotFound for unknown keys.
type Store interface {
	Load(key string) (*Session, error)
	Save(s *Session) error
	Delete(key string) error
	List() ([]Info, error)
	Close() error
}

// OpenStore returns the store for backend ("file" or "sqlite").
func OpenStore(ctx context.Context, backend, dir, sqlitePath string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		return NewSQLiteStore(ctx, sqlitePath)
	default:
		return nil, errors.New("unknown session backend %q", backend)
	}
}

// Manager caches sessions in memory in front of a Store.
type Manager struct {
	store Store

	mu    sync.Mutex
	cache map[string]*Session
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, cache: make(map[string]*Session)}
}

// GetOrCreate returns the cached or stored session, creating a new one when
// the key is unknown.
func (m *Manager) GetOrCreate(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s, nil
	}
	s, err := m.store.Load(key)
	if errors.Is(err, errors.ErrSessionNotFound) {
		s = New(key)
	} else if err != nil {
		return nil, errors.Wrapf(err, "loading session %s", key)
	}
	m.cache[key] = s
	return s, nil
}

// Get returns an existing session and errors.ErrSessionNotFound otherwise.
func (m *Manager) Get(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s, nil
	}
	s, err := m.store.Load(key)
	if err != nil {
		return nil, err
	}
	m.cache[key] = s
	return s, nil
}

// Save writes the session through to the store.
func (m *Manager) Save(s *Session) error {
	m.mu.Lock()
	m.cache[s.Key] = s
	m.mu.Unlock()
	if err := m.store.Save(s); err != nil {
		return errors.Wrapf(err, "saving session %s", s.Key)
	}
	return nil
}

// Delete removes the session from cache and store.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return m.store.Delete(key)
}

// List returns stored sessions, most recently updated first.
func (m *Manager) List() ([]Info, error) {
	return m.store.List()
}

func (m *Manager) Close() error {
	return m.store.Close()
}
