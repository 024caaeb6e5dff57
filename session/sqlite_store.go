package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/spark/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_key  TEXT NOT NULL REFERENCES sessions(key) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_calls   TEXT,
	tool_call_id TEXT,
	name         TEXT,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (session_key, seq)
);
`

// SQLiteStore keeps sessions in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating database directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database")
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "applying schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(key string) (*Session, error) {
	var created, updated int64
	err := s.db.QueryRow(`SELECT created_at, updated_at FROM sessions WHERE key = ?`, key).Scan(&created, &updated)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying session")
	}

	rows, err := s.db.Query(`SELECT role, content, tool_calls, tool_call_id, name, created_at
		FROM messages WHERE session_key = ? ORDER BY seq`, key)
	if err != nil {
		return nil, errors.Wrapf(err, "querying messages")
	}
	defer rows.Close()

	sess := &Session{Key: key, Messages: []Message{}, CreatedAt: time.UnixMilli(created), UpdatedAt: time.UnixMilli(updated)}
	for rows.Next() {
		var (
			m                      Message
			toolCalls, callID, nme sql.NullString
			ts                     int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &callID, &nme, &ts); err != nil {
			return nil, errors.Wrapf(err, "scanning message")
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, errors.Wrapf(err, "decoding tool calls")
			}
		}
		m.ToolCallID, m.Name = callID.String, nme.String
		m.Timestamp = time.UnixMilli(ts)
		sess.Messages = append(sess.Messages, m)
	}
	return sess, rows.Err()
}

// Save replaces the stored messages of s in one transaction.
func (s *SQLiteStore) Save(sess *Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrapf(err, "beginning transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO sessions (key, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		sess.Key, sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "upserting session")
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_key = ?`, sess.Key); err != nil {
		return errors.Wrapf(err, "clearing messages")
	}

	stmt, err := tx.Prepare(`INSERT INTO messages
		(session_key, seq, role, content, tool_calls, tool_call_id, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrapf(err, "preparing insert")
	}
	defer stmt.Close()

	for i, m := range sess.Messages {
		var toolCalls any
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return errors.Wrapf(err, "encoding tool calls")
			}
			toolCalls = string(data)
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = sess.UpdatedAt
		}
		if _, err := stmt.Exec(sess.Key, i, m.Role, m.Content, toolCalls, m.ToolCallID, m.Name, ts.UnixMilli()); err != nil {
			return errors.Wrapf(err, "inserting message %d", i)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE session_key = ?`, key); err != nil {
		return errors.Wrapf(err, "deleting messages")
	}
	res, err := s.db.Exec(`DELETE FROM sessions WHERE key = ?`, key)
	if err != nil {
		return errors.Wrapf(err, "deleting session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) List() ([]Info, error) {
	rows, err := s.db.Query(`SELECT s.key, s.created_at, s.updated_at, COUNT(m.seq)
		FROM sessions s LEFT JOIN messages m ON m.session_key = s.key
		GROUP BY s.key ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, errors.Wrapf(err, "listing sessions")
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info             Info
			created, updated int64
		)
		if err := rows.Scan(&info.Key, &created, &updated, &info.Messages); err != nil {
			return nil, errors.Wrapf(err, "scanning session")
		}
		info.CreatedAt, info.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
