package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Memory is an in-process Repository. Searches are a linear cosine scan.
type Memory struct {
	mu            sync.RWMutex
	chunks        map[model.ChunkID]*model.Chunk
	conversations map[model.ConversationID]*model.Conversation
	records       map[model.ConversationID][]*model.Record
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		chunks:        make(map[model.ChunkID]*model.Chunk),
		conversations: make(map[model.ConversationID]*model.Conversation),
		records:       make(map[model.ConversationID][]*model.Record),
	}
}

func (m *Memory) PutChunks(ctx context.Context, chunks []*model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		if c.ID == "" {
			return goerr.New("chunk ID is required", goerr.V("source", c.Source))
		}
		copied := *c
		copied.Distance = 0
		m.chunks[c.ID] = &copied
	}
	return nil
}

func (m *Memory) SearchChunks(ctx context.Context, embedding []float32, limit int) ([]*model.Chunk, error) {
	m.mu.RLock()
	candidates := make([]*model.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		copied := *c
		copied.Distance = CosineDistance(embedding, c.Embedding)
		candidates = append(candidates, &copied)
	}
	m.mu.RUnlock()

	return nearest(candidates, limit), nil
}

// nearest sorts candidates by ascending distance, tie-broken by ID, and cuts them to limit
func nearest(candidates []*model.Chunk, limit int) []*model.Chunk {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ID < candidates[j].ID
	})

	limit = normalizeLimit(limit)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

func (m *Memory) CountChunks(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func (m *Memory) PutConversation(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *conv
	copied.Messages = nil
	m.conversations[conv.ID] = &copied
	return nil
}

func (m *Memory) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V("id", id))
	}
	copied := *conv
	return &copied, nil
}

func (m *Memory) ListConversations(ctx context.Context, offset, limit int) ([]*model.Conversation, error) {
	m.mu.RLock()
	all := make([]*model.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		copied := *c
		all = append(all, &copied)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*model.Conversation{}, nil
	}
	all = all[offset:]
	if limit = normalizeLimit(limit); len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) PutRecord(ctx context.Context, record *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *record
	m.records[record.ConversationID] = append(m.records[record.ConversationID], &copied)
	return nil
}

func (m *Memory) ListRecords(ctx context.Context, id model.ConversationID, limit int) ([]*model.Record, error) {
	m.mu.RLock()
	result := make([]*model.Record, len(m.records[id]))
	for i, r := range m.records[id] {
		copied := *r
		result[i] = &copied
	}
	m.mu.RUnlock()

	// Records sharing a timestamp stay in insertion order, as sqlite's rowid does
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit = normalizeLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) Close() error {
	return nil
}
