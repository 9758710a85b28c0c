package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Postgres is a Repository on PostgreSQL with the pgvector extension
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	embedding vector NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
`

// NewPostgres connects to databaseURL, enables pgvector and creates tables if needed
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	// The extension must exist before the pool registers the vector type
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to postgres")
	}
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = conn.Close(ctx)
		return nil, goerr.Wrap(err, "failed to create vector extension")
	}
	_ = conn.Close(ctx)

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse postgres URL")
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to ping postgres")
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to initialize postgres schema")
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) PutChunks(ctx context.Context, chunks []*model.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.ID == "" {
			return goerr.New("chunk ID is required", goerr.V("source", c.Source))
		}
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", c.ID))
		}

		batch.Queue(`
			INSERT INTO chunks (id, source, chunk_index, content, embedding, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				source = EXCLUDED.source,
				chunk_index = EXCLUDED.chunk_index,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata,
				created_at = EXCLUDED.created_at`,
			string(c.ID), c.Source, c.Index, c.Content, pgvector.NewVector(c.Embedding), metadata, c.CreatedAt)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, c := range chunks {
		if _, err := results.Exec(); err != nil {
			return goerr.Wrap(err, "failed to upsert chunk", goerr.V("id", c.ID))
		}
	}
	return nil
}

func (p *Postgres) SearchChunks(ctx context.Context, embedding []float32, limit int) ([]*model.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source, chunk_index, content, embedding, metadata, created_at, embedding <=> $1 AS distance
		FROM chunks ORDER BY embedding <=> $1 LIMIT $2`,
		pgvector.NewVector(embedding), normalizeLimit(limit))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search chunks")
	}
	defer rows.Close()

	var result []*model.Chunk
	for rows.Next() {
		var c model.Chunk
		var id string
		var vector pgvector.Vector
		var metadata []byte
		if err := rows.Scan(&id, &c.Source, &c.Index, &c.Content, &vector, &metadata, &c.CreatedAt, &c.Distance); err != nil {
			return nil, goerr.Wrap(err, "failed to scan chunk")
		}
		c.ID = model.ChunkID(id)
		c.Embedding = vector.Slice()
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal metadata", goerr.V("id", id))
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate chunks")
	}
	return result, nil
}

func (p *Postgres) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count chunks")
	}
	return n, nil
}

func (p *Postgres) PutConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, updated_at = EXCLUDED.updated_at`,
		string(conv.ID), conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to put conversation", goerr.V("id", conv.ID))
	}
	return nil
}

func (p *Postgres) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	var conv model.Conversation
	var rawID string
	err := p.pool.QueryRow(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1`, string(id)).
		Scan(&rawID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V("id", id))
	}
	conv.ID = model.ConversationID(rawID)
	return &conv, nil
}

func (p *Postgres) ListConversations(ctx context.Context, offset, limit int) ([]*model.Conversation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, created_at, updated_at FROM conversations
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, normalizeLimit(limit), offset)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	result := []*model.Conversation{}
	for rows.Next() {
		var conv model.Conversation
		var rawID string
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

func (p *Postgres) PutRecord(ctx context.Context, record *model.Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		string(record.ID), string(record.ConversationID), string(record.Role), record.Content, record.CreatedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to put record", goerr.V("id", record.ID))
	}
	return nil
}

func (p *Postgres) ListRecords(ctx context.Context, id model.ConversationID, limit int) ([]*model.Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC LIMIT $2`, string(id), normalizeLimit(limit))
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

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
