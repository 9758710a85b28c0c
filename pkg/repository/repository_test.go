package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/gt"
)

// testRepository runs the common behavior checks against any Repository
func testRepository(t *testing.T, repo repository.Repository) {
	t.Helper()

	t.Run("search returns nearest chunks first", func(t *testing.T) {
		ctx := context.Background()
		source := fmt.Sprintf("doc-%d", time.Now().UnixNano())

		chunks := []*model.Chunk{
			{ID: model.NewChunkID(source, 0), Source: source, Index: 0, Content: "east", Embedding: []float32{1, 0, 0}, CreatedAt: time.Now()},
			{ID: model.NewChunkID(source, 1), Source: source, Index: 1, Content: "north", Embedding: []float32{0, 1, 0}, CreatedAt: time.Now()},
			{ID: model.NewChunkID(source, 2), Source: source, Index: 2, Content: "north-east", Embedding: []float32{0.7, 0.7, 0}, Metadata: map[string]any{"source": source}, CreatedAt: time.Now()},
		}
		gt.NoError(t, repo.PutChunks(ctx, chunks))

		results, err := repo.SearchChunks(ctx, []float32{1, 0.1, 0}, 2)
		gt.NoError(t, err)
		gt.A(t, results).Length(2)
		gt.Equal(t, results[0].Content, "east")
		gt.Equal(t, results[1].Content, "north-east")
		gt.True(t, results[0].Distance <= results[1].Distance)
	})

	t.Run("put chunks replaces by ID", func(t *testing.T) {
		ctx := context.Background()
		id := model.NewChunkID(fmt.Sprintf("upsert-%d", time.Now().UnixNano()), 0)

		before, err := repo.CountChunks(ctx)
		gt.NoError(t, err)

		gt.NoError(t, repo.PutChunks(ctx, []*model.Chunk{{ID: id, Content: "v1", Embedding: []float32{0, 0, 1}, CreatedAt: time.Now()}}))
		gt.NoError(t, repo.PutChunks(ctx, []*model.Chunk{{ID: id, Content: "v2", Embedding: []float32{0, 0, 1}, CreatedAt: time.Now()}}))

		after, err := repo.CountChunks(ctx)
		gt.NoError(t, err)
		gt.Equal(t, after, before+1)

		results, err := repo.SearchChunks(ctx, []float32{0, 0, 1}, 1)
		gt.NoError(t, err)
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].Content, "v2")
	})

	t.Run("conversations are listed newest first", func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().Truncate(time.Millisecond)

		older := &model.Conversation{ID: model.NewConversationID(), Title: "older", CreatedAt: now.Add(-time.Hour), UpdatedAt: now}
		newer := &model.Conversation{ID: model.NewConversationID(), Title: "newer", CreatedAt: now, UpdatedAt: now}
		gt.NoError(t, repo.PutConversation(ctx, older))
		gt.NoError(t, repo.PutConversation(ctx, newer))

		got, err := repo.GetConversation(ctx, older.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.Title, "older")

		list, err := repo.ListConversations(ctx, 0, 100)
		gt.NoError(t, err)
		gt.A(t, list).Longer(1)
		for i := 0; i < len(list)-1; i++ {
			gt.False(t, list[i].CreatedAt.Before(list[i+1].CreatedAt))
		}
	})

	t.Run("missing conversation is ErrNotFound", func(t *testing.T) {
		_, err := repo.GetConversation(context.Background(), model.NewConversationID())
		gt.Error(t, err)
		gt.True(t, errors.Is(err, repository.ErrNotFound))
	})

	t.Run("records are listed oldest first", func(t *testing.T) {
		ctx := context.Background()
		convID := model.NewConversationID()
		now := time.Now().Truncate(time.Millisecond)

		for i, content := range []string{"hello", "hi there", "bye"} {
			role := model.RoleUser
			if i%2 == 1 {
				role = model.RoleAssistant
			}
			gt.NoError(t, repo.PutRecord(ctx, &model.Record{
				ID:             model.NewRecordID(),
				ConversationID: convID,
				Role:           role,
				Content:        content,
				CreatedAt:      now.Add(time.Duration(i) * time.Second),
			}))
		}

		records, err := repo.ListRecords(ctx, convID, 10)
		gt.NoError(t, err)
		gt.A(t, records).Length(3)
		gt.Equal(t, records[0].Content, "hello")
		gt.Equal(t, records[1].Role, model.RoleAssistant)
		gt.Equal(t, records[2].Content, "bye")

		limited, err := repo.ListRecords(ctx, convID, 2)
		gt.NoError(t, err)
		gt.A(t, limited).Length(2)
	})

	t.Run("records stored out of order are listed by time", func(t *testing.T) {
		ctx := context.Background()
		convID := model.NewConversationID()
		now := time.Now().Truncate(time.Millisecond)

		for _, r := range []struct {
			content string
			offset  time.Duration
		}{
			{"third", 2 * time.Second},
			{"first", 0},
			{"second", time.Second},
		} {
			gt.NoError(t, repo.PutRecord(ctx, &model.Record{
				ID:             model.NewRecordID(),
				ConversationID: convID,
				Role:           model.RoleUser,
				Content:        r.content,
				CreatedAt:      now.Add(r.offset),
			}))
		}

		records, err := repo.ListRecords(ctx, convID, 10)
		gt.NoError(t, err)
		gt.A(t, records).Length(3)
		gt.Equal(t, records[0].Content, "first")
		gt.Equal(t, records[1].Content, "second")
		gt.Equal(t, records[2].Content, "third")

		// the limit keeps the oldest ones
		limited, err := repo.ListRecords(ctx, convID, 1)
		gt.NoError(t, err)
		gt.A(t, limited).Length(1)
		gt.Equal(t, limited[0].Content, "first")
	})
}

func TestMemory(t *testing.T) {
	testRepository(t, repository.NewMemory())
}

func TestMemoryRecordsWithSameTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	convID := model.NewConversationID()
	now := time.Now()

	for _, content := range []string{"question", "answer"} {
		gt.NoError(t, repo.PutRecord(ctx, &model.Record{
			ID:             model.NewRecordID(),
			ConversationID: convID,
			Role:           model.RoleUser,
			Content:        content,
			CreatedAt:      now,
		}))
	}

	records, err := repo.ListRecords(ctx, convID, 10)
	gt.NoError(t, err)
	gt.A(t, records).Length(2)
	gt.Equal(t, records[0].Content, "question")
	gt.Equal(t, records[1].Content, "answer")
}

func TestSQLite(t *testing.T) {
	repo, err := repository.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	testRepository(t, repo)
}

func TestPostgres(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL is not set")
	}

	repo, err := repository.NewPostgres(context.Background(), url)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	testRepository(t, repo)
}

func TestFirestore(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	testRepository(t, repo)
}

func TestNewByDSN(t *testing.T) {
	ctx := context.Background()

	t.Run("empty DSN is memory", func(t *testing.T) {
		repo, err := repository.New(ctx, "")
		gt.NoError(t, err)
		_, ok := repo.(*repository.Memory)
		gt.True(t, ok)
	})

	t.Run("sqlite scheme", func(t *testing.T) {
		repo, err := repository.New(ctx, "sqlite://"+filepath.Join(t.TempDir(), "dsn.db"))
		gt.NoError(t, err)
		defer repo.Close()
		_, ok := repo.(*repository.SQLite)
		gt.True(t, ok)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := repository.New(ctx, "mongodb://localhost")
		gt.Error(t, err)
	})
}

func TestCosineSimilarity(t *testing.T) {
	gt.Equal(t, repository.CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1.0)
	gt.Equal(t, repository.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 0.0)
	gt.Equal(t, repository.CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), -1.0)

	// mismatched length and zero vectors
	gt.Equal(t, repository.CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}), 0.0)
	gt.Equal(t, repository.CosineSimilarity([]float32{0, 0}, []float32{1, 0}), 0.0)

	gt.Equal(t, repository.CosineDistance([]float32{1, 0}, []float32{0, 1}), 1.0)
}
