package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a file backed Repository. Embeddings are stored as JSON and
// searched by a linear cosine scan.
type SQLite struct {
	db *sql.DB
}

var _ Repository = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	embedding TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
`

// NewSQLite opens (or creates) the database file at path. An empty path means ./data/burrow.db.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "./data/burrow.db"
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to ping sqlite database", goerr.V("path", path))
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize sqlite schema")
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) PutChunks(ctx context.Context, chunks []*model.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source, chunk_index, content, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			chunk_index = excluded.chunk_index,
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			created_at = excluded.created_at`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare chunk insert")
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ID == "" {
			return goerr.New("chunk ID is required", goerr.V("source", c.Source))
		}

		embedding, err := json.Marshal(c.Embedding)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal embedding", goerr.V("id", c.ID))
		}
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", c.ID))
		}

		if _, err := stmt.ExecContext(ctx, string(c.ID), c.Source, c.Index, c.Content,
			string(embedding), string(metadata), c.CreatedAt.UTC()); err != nil {
			return goerr.Wrap(err, "failed to upsert chunk", goerr.V("id", c.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit chunks")
	}
	return nil
}

func (s *SQLite) SearchChunks(ctx context.Context, embedding []float32, limit int) ([]*model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, chunk_index, content, embedding, metadata, created_at FROM chunks`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query chunks")
	}
	defer rows.Close()

	var candidates []*model.Chunk
	for rows.Next() {
		var c model.Chunk
		var id, vector, meta string
		if err := rows.Scan(&id, &c.Source, &c.Index, &c.Content, &vector, &meta, &c.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan chunk")
		}
		c.ID = model.ChunkID(id)
		if err := json.Unmarshal([]byte(vector), &c.Embedding); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal embedding", goerr.V("id", id))
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal metadata", goerr.V("id", id))
		}
		c.Distance = CosineDistance(embedding, c.Embedding)
		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate chunks")
	}

	return nearest(candidates, limit), nil
}

func (s *SQLite) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count chunks")
	}
	return n, nil
}

func (s *SQLite) PutConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		string(conv.ID), conv.Title, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC())
	if err != nil {
		return goerr.Wrap(err, "failed to put conversation", goerr.V("id", conv.ID))
	}
	return nil
}

func (s *SQLite) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	var conv model.Conversation
	var rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, string(id)).
		Scan(&rawID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V("id", id))
	}
	conv.ID = model.ConversationID(rawID)
	return &conv, nil
}

func (s *SQLite) ListConversations(ctx context.Context, offset, limit int) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, normalizeLimit(limit), offset)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	result := []*model.Conversation{}
	for rows.Next() {
		var (
			conv  model.Conversation
			rawID string
		)
		if err := rows.Scan(&rawID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan conversation")
		}
		conv.ID = model.ConversationID(rawID)
		result = append(result, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate conversations")
	}
	return result, nil
}

func (s *SQLite) PutRecord(ctx context.Context, record *model.Record) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(record.ID), string(record.ConversationID), string(record.Role), record.Content, createdAt.UTC())
	if err != nil {
		return goerr.Wrap(err, "failed to put record", goerr.V("id", record.ID))
	}
	return nil
}

func (s *SQLite) ListRecords(ctx context.Context, id model.ConversationID, limit int) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`, string(id), normalizeLimit(limit))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records", goerr.V("conversation_id", id))
	}
	defer rows.Close()

	result := []*model.Record{}
	for rows.Next() {
		var r model.Record
		var rawID, convID, role string
		if err := rows.Scan(&rawID, &convID, &role, &r.Content, &r.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan record")
		}
		r.ID = model.RecordID(rawID)
		r.ConversationID = model.ConversationID(convID)
		r.Role = model.Role(role)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate records")
	}
	return result, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
