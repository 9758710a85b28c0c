package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/metrics"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Chunk splits text into pieces of size runes. The last piece may be shorter.
// A size of 0 or less uses DefaultChunkSize.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if text == "" {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// Ingest chunks text, embeds the chunks and upserts them. It returns the number of chunks stored.
func (uc *UseCase) Ingest(ctx context.Context, source, text string) (int, error) {
	if err := uc.requireRepo(); err != nil {
		return 0, err
	}

	logger := logging.From(ctx)
	pieces := Chunk(text, uc.chunkSize)
	logger.Info("chunked document", "source", source, "runes", utf8.RuneCountInString(text), "chunks", len(pieces))

	now := time.Now()
	for start := 0; start < len(pieces); start += uc.batchSize {
		end := min(start+uc.batchSize, len(pieces))

		vectors, err := uc.embedder.Embed(ctx, pieces[start:end])
		if err != nil {
			return start, goerr.Wrap(err, "failed to embed chunks",
				goerr.V("source", source),
				goerr.V("from", start),
				goerr.V("to", end))
		}

		chunks := make([]*model.Chunk, 0, end-start)
		for i, vec := range vectors {
			idx := start + i
			chunks = append(chunks, &model.Chunk{
				ID:        model.NewChunkID(source, idx),
				Source:    source,
				Index:     idx,
				Content:   pieces[idx],
				Embedding: vec,
				Metadata: map[string]any{
					"source":      source,
					"chunk_index": idx,
				},
				CreatedAt: now,
			})
		}

		if err := uc.repo.PutChunks(ctx, chunks); err != nil {
			return start, goerr.Wrap(err, "failed to store chunks", goerr.V("source", source))
		}
		metrics.ChunksIngested.Add(float64(len(chunks)))
		logger.Debug("stored chunk batch", "source", source, "from", start, "to", end)
	}

	return len(pieces), nil
}

// IngestFile ingests a PDF or UTF-8 text file under its base name
func (uc *UseCase) IngestFile(ctx context.Context, path string) (int, error) {
	var text string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		extracted, err := adapter.ExtractPDFText(path)
		if err != nil {
			return 0, err
		}
		text = extracted
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, goerr.Wrap(err, "failed to read file", goerr.V("path", path))
		}
		if !utf8.Valid(data) {
			return 0, goerr.New("file is not valid UTF-8 text", goerr.V("path", path))
		}
		text = string(data)
	}

	return uc.Ingest(ctx, filepath.Base(path), text)
}

// AddText upserts a single document under an explicit ID
func (uc *UseCase) AddText(ctx context.Context, id, text string) error {
	if err := uc.requireRepo(); err != nil {
		return err
	}
	if id == "" || strings.TrimSpace(text) == "" {
		return goerr.New("id and text are required", goerr.V("id", id))
	}

	vectors, err := uc.embedder.Embed(ctx, []string{text})
	if err != nil {
		return goerr.Wrap(err, "failed to embed document", goerr.V("id", id))
	}

	chunk := &model.Chunk{
		ID:        model.ChunkID(id),
		Content:   text,
		Embedding: vectors[0],
		CreatedAt: time.Now(),
	}
	if err := uc.repo.PutChunks(ctx, []*model.Chunk{chunk}); err != nil {
		return goerr.Wrap(err, "failed to store document", goerr.V("id", id))
	}
	metrics.ChunksIngested.Inc()
	return nil
}
