package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const titleMaxRunes = 50

// snapshot is the object stored at conversations/<id>.json
type snapshot struct {
	ID        model.ConversationID `json:"id"`
	Title     string               `json:"title"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Messages  []*model.Message     `json:"messages"`
}

// SnapshotKey returns the storage key of a conversation snapshot
func SnapshotKey(id model.ConversationID) string {
	return "conversations/" + string(id) + ".json"
}

// Title returns input cut to at most 50 runes
func Title(input string) string {
	if utf8.RuneCountInString(input) <= titleMaxRunes {
		return input
	}
	return string([]rune(input)[:titleMaxRunes])
}

// persist stores records, the snapshot and the metadata of the current turn.
// Failures are logged; the reply has already been produced.
func (s *Session) persist(ctx context.Context, input, reply string) {
	repo, storage := s.agent.repo, s.agent.storage
	if repo == nil && storage == nil {
		return
	}
	logger := logging.From(ctx)

	now := time.Now()
	if s.conv.CreatedAt.IsZero() {
		s.conv.CreatedAt = now
	}
	if s.conv.Title == "" {
		s.conv.Title = Title(input)
	}
	s.conv.UpdatedAt = now

	if repo != nil {
		records := []*model.Record{
			{ID: model.NewRecordID(), ConversationID: s.conv.ID, Role: model.RoleUser, Content: input, CreatedAt: now},
			{ID: model.NewRecordID(), ConversationID: s.conv.ID, Role: model.RoleAssistant, Content: reply, CreatedAt: now.Add(time.Millisecond)},
		}
		for _, r := range records {
			if err := repo.PutRecord(ctx, r); err != nil {
				logger.Warn("failed to save record", logging.ErrAttr(err))
			}
		}
	}

	if storage != nil {
		if err := saveSnapshot(ctx, storage, s.conv, s.messages); err != nil {
			logger.Warn("failed to save conversation snapshot", logging.ErrAttr(err))
		}
	}

	if repo != nil {
		if err := repo.PutConversation(ctx, s.conv); err != nil {
			logger.Warn("failed to save conversation", logging.ErrAttr(err))
		}
	}
}

func saveSnapshot(ctx context.Context, storage adapter.Storage, conv *model.Conversation, messages []*model.Message) error {
	data, err := json.Marshal(&snapshot{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  messages,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to marshal conversation snapshot")
	}

	writer, err := storage.Put(ctx, SnapshotKey(conv.ID))
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer")
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write conversation snapshot")
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer")
	}
	return nil
}

// loadConversation reads the snapshot and, when a repository is available, its metadata
func loadConversation(ctx context.Context, repo repository.Repository, storage adapter.Storage, id model.ConversationID) (*model.Conversation, error) {
	reader, err := storage.Get(ctx, SnapshotKey(id))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get conversation from storage", goerr.V("id", id))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read conversation snapshot", goerr.V("id", id))
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal conversation snapshot", goerr.V("id", id))
	}

	conv := &model.Conversation{
		ID:        id,
		Title:     snap.Title,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}

	if repo != nil {
		meta, err := repo.GetConversation(ctx, id)
		switch {
		case err == nil:
			conv = meta
		case errors.Is(err, repository.ErrNotFound):
			logging.From(ctx).Warn("conversation metadata not found, using snapshot", "id", id)
		default:
			return nil, goerr.Wrap(err, "failed to get conversation metadata", goerr.V("id", id))
		}
	}

	conv.Messages = snap.Messages
	return conv, nil
}
