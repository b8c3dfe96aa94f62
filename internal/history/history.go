// Package history provides SQLite-based persistence for conversation messages.
// The database is opened lazily and created on first use.
// If opening the DB fails, the store falls back to in-memory storage.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/message"
)

// Repository is the append/list contract served to chat clients.
type Repository interface {
	Append(ctx context.Context, conversationID string, role message.Role, content string) (message.Record, error)
	List(ctx context.Context, conversationID string) ([]message.Record, error)
}

// Store is a Repository backed by SQLite.
type Store struct {
	path string
	now  func() time.Time

	dbOnce  sync.Once
	db      *sql.DB
	initErr error

	mu     sync.Mutex
	mem    []message.Record // in-memory fallback
	nextID int64
}

// New returns a store for the database at path. Nothing is opened until the
// first call.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// initDB lazily opens the SQLite database and creates the messages table if it doesn't exist.
func (s *Store) initDB() {
	var err error
	s.db, err = sql.Open("sqlite", "file:"+s.path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory history", "error", err)
		return
	}
	if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );`); err != nil {
		s.fallback("sqlite table creation failed; using in-memory history", err)
		return
	}
	if _, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS messages_conversation ON messages (conversation_id, id);`); err != nil {
		s.fallback("sqlite index creation failed; using in-memory history", err)
		return
	}
	logger.L.Info("sqlite history DB initialized", "path", s.path)
}

func (s *Store) fallback(msg string, err error) {
	s.initErr = err
	s.db.Close()
	s.db = nil
	logger.L.Warn(msg, "error", err)
}

func (s *Store) ready() bool {
	s.dbOnce.Do(s.initDB)
	return s.initErr == nil && s.db != nil
}

// Append persists a message and returns it with its storage id and timestamp.
func (s *Store) Append(ctx context.Context, conversationID string, role message.Role, content string) (message.Record, error) {
	rec := message.Record{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}

	if s.ready() {
		res, err := s.db.ExecContext(ctx, `INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?,?,?,?);`, rec.ConversationID, rec.Role, rec.Content, rec.CreatedAt)
		if err != nil {
			return message.Record{}, fmt.Errorf("insert message: %w", err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return message.Record{}, fmt.Errorf("insert message id: %w", err)
		}
		return rec, nil
	}

	s.mu.Lock()
	s.nextID++
	rec.ID = s.nextID
	s.mem = append(s.mem, rec)
	s.mu.Unlock()
	return rec, nil
}

// List returns all messages of a conversation in insertion order.
func (s *Store) List(ctx context.Context, conversationID string) ([]message.Record, error) {
	out := []message.Record{}
	if s.ready() {
		rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC;`, conversationID)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m message.Record
			if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
				return nil, fmt.Errorf("scan message: %w", err)
			}
			out = append(out, m)
		}
		return out, rows.Err()
	}

	s.mu.Lock()
	for _, m := range s.mem {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	return out, nil
}

// Close releases the database handle, if one was opened.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
