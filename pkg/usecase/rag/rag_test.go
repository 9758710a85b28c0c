package rag_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/usecase/rag"
	"github.com/m-mizutani/gt"
)

// keywordEmbedder maps texts to fixed axes by keyword and counts calls
type keywordEmbedder struct {
	calls  int
	inputs [][]string
}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.inputs = append(e.inputs, texts)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := []float32{0.01, 0.01, 0.01, 0.01}
		lower := strings.ToLower(text)
		for axis, kw := range []string{"python", "banana", "server", "react"} {
			if strings.Contains(lower, kw) {
				v[axis] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("quota exceeded")
}

type mockChat struct {
	prompt string
	reply  string
}

func (m *mockChat) Chat(ctx context.Context, req *model.ChatRequest) (*model.Message, error) {
	m.prompt = req.Messages[len(req.Messages)-1].Content
	return model.NewAssistantMessage(m.reply), nil
}

func (m *mockChat) Stream(ctx context.Context, req *model.ChatRequest, fn func(string) error) error {
	return fn(m.reply)
}

func TestChunk(t *testing.T) {
	t.Run("fixed size with shorter tail", func(t *testing.T) {
		chunks := rag.Chunk(strings.Repeat("a", 2500), 1000)
		gt.A(t, chunks).Length(3)
		gt.Equal(t, len(chunks[0]), 1000)
		gt.Equal(t, len(chunks[2]), 500)
	})

	t.Run("counts runes", func(t *testing.T) {
		chunks := rag.Chunk("日本語のテキスト", 3)
		gt.Equal(t, chunks, []string{"日本語", "のテキ", "スト"})
	})

	t.Run("empty text", func(t *testing.T) {
		gt.A(t, rag.Chunk("", 10)).Length(0)
	})

	t.Run("non-positive size uses default", func(t *testing.T) {
		chunks := rag.Chunk(strings.Repeat("x", 1001), 0)
		gt.A(t, chunks).Length(2)
		gt.Equal(t, len(chunks[0]), rag.DefaultChunkSize)
	})
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	emb := &keywordEmbedder{}
	uc := rag.New(repo, emb, rag.WithChunkSize(10), rag.WithBatchSize(2))

	n, err := uc.Ingest(ctx, "manual.pdf", strings.Repeat("0123456789", 5))
	gt.NoError(t, err)
	gt.Equal(t, n, 5)

	// 5 chunks in batches of 2
	gt.Equal(t, emb.calls, 3)
	gt.A(t, emb.inputs[2]).Length(1)

	count, err := repo.CountChunks(ctx)
	gt.NoError(t, err)
	gt.Equal(t, count, 5)

	found, err := repo.SearchChunks(ctx, []float32{0.01, 0.01, 0.01, 0.01}, 10)
	gt.NoError(t, err)
	gt.A(t, found).Length(5)
	gt.Equal(t, found[0].ID, model.ChunkID("manual.pdf_chunk_0"))
	gt.Equal(t, found[0].Source, "manual.pdf")
	gt.Map(t, found[0].Metadata).HasKey("chunk_index")

	// re-ingesting upserts instead of duplicating
	_, err = uc.Ingest(ctx, "manual.pdf", strings.Repeat("0123456789", 5))
	gt.NoError(t, err)
	count, err = repo.CountChunks(ctx)
	gt.NoError(t, err)
	gt.Equal(t, count, 5)
}

func TestIngestEmbedFailure(t *testing.T) {
	uc := rag.New(repository.NewMemory(), failingEmbedder{})
	_, err := uc.Ingest(context.Background(), "a.txt", "hello")
	gt.Error(t, err)
}

func TestIngestFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	gt.NoError(t, os.WriteFile(path, []byte("Python is great for AI."), 0644))

	repo := repository.NewMemory()
	uc := rag.New(repo, &keywordEmbedder{})
	n, err := uc.IngestFile(ctx, path)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)

	chunks, err := uc.Retrieve(ctx, "python", 1)
	gt.NoError(t, err)
	gt.A(t, chunks).Length(1)
	gt.Equal(t, chunks[0].ID, model.ChunkID("notes.txt_chunk_0"))

	_, err = uc.IngestFile(ctx, filepath.Join(dir, "missing.txt"))
	gt.Error(t, err)
}

func TestAnswer(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	emb := &keywordEmbedder{}
	chat := &mockChat{reply: "Blueberry"}
	uc := rag.New(repo, emb, rag.WithChatModel(chat))

	t.Run("no context", func(t *testing.T) {
		_, err := uc.Answer(ctx, "what is the password?")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, rag.ErrNoContext))
	})

	gt.NoError(t, uc.AddText(ctx, "secret_doc", "The secret password for the server is 'Blueberry'."))
	gt.NoError(t, uc.AddText(ctx, "fruit", "Bananas are rich in potassium."))

	t.Run("answers from closest chunk", func(t *testing.T) {
		answer, err := uc.Answer(ctx, "What is the server password?")
		gt.NoError(t, err)
		gt.Equal(t, answer.Text, "Blueberry")
		gt.A(t, answer.Sources).Length(1)
		gt.Equal(t, answer.Sources[0].ID, model.ChunkID("secret_doc"))

		gt.S(t, chat.prompt).Contains(`say "I don't know."`)
		gt.S(t, chat.prompt).Contains("Context: The secret password")
		gt.S(t, chat.prompt).Contains("Question: What is the server password?")
		gt.S(t, chat.prompt).NotContains("potassium")
	})

	t.Run("without chat model", func(t *testing.T) {
		_, err := rag.New(repo, emb).Answer(ctx, "anything")
		gt.Error(t, err)
	})

	t.Run("add requires id", func(t *testing.T) {
		gt.Error(t, uc.AddText(ctx, "", "text"))
	})
}

func TestRank(t *testing.T) {
	emb := &keywordEmbedder{}
	uc := rag.New(nil, emb)
	docs := []string{
		"The python programming language is great for AI.",
		"Apples and bananas are rich in potassium.",
		"To restart the server, run sudo systemctl restart nginx.",
		"React uses a virtual DOM to optimize rendering.",
	}

	results, err := uc.Rank(context.Background(), "My server is down", docs)
	gt.NoError(t, err)
	gt.A(t, results).Length(4)
	gt.Equal(t, results[0].Content, docs[2])
	gt.True(t, results[0].Score > results[1].Score)

	// one request for query and documents
	gt.Equal(t, emb.calls, 1)

	t.Run("ties keep input order", func(t *testing.T) {
		plain := []string{"alpha", "beta", "gamma"}
		results, err := uc.Rank(context.Background(), "server", plain)
		gt.NoError(t, err)
		for i, r := range results {
			gt.Equal(t, r.Content, plain[i])
		}
	})

	_, err = uc.Rank(context.Background(), "query", nil)
	gt.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	uc := rag.New(nil, &keywordEmbedder{})

	pairs, err := uc.Similarity(context.Background(), []string{"python", "python code", "banana"})
	gt.NoError(t, err)
	gt.A(t, pairs).Length(3)
	gt.Equal(t, pairs[0].I, 0)
	gt.Equal(t, pairs[0].J, 1)
	gt.True(t, pairs[0].Similarity > 0.999)
	gt.True(t, pairs[0].Distance < 0.001)
	gt.True(t, pairs[1].Similarity < pairs[0].Similarity)
	gt.Equal(t, pairs[2].I, 1)
	gt.Equal(t, pairs[2].J, 2)

	_, err = uc.Similarity(context.Background(), []string{"only one"})
	gt.Error(t, err)
}

func TestRequiresRepository(t *testing.T) {
	uc := rag.New(nil, &keywordEmbedder{})
	_, err := uc.Ingest(context.Background(), "a", "b")
	gt.Error(t, err)
	_, err = uc.Retrieve(context.Background(), "a", 1)
	gt.Error(t, err)
}
