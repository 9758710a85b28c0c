package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const answerInstruction = `You are a helpful assistant. Use the provided context to answer the question.
If the answer is not in the context, say "I don't know."`

// Answer is a generated answer with the chunks it was grounded on
type Answer struct {
	Text    string
	Sources []*model.Chunk
}

// Retrieve returns up to limit chunks closest to query
func (uc *UseCase) Retrieve(ctx context.Context, query string, limit int) ([]*model.Chunk, error) {
	if err := uc.requireRepo(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, goerr.New("query is empty")
	}
	if limit <= 0 {
		limit = uc.limit
	}

	vectors, err := uc.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	chunks, err := uc.repo.SearchChunks(ctx, vectors[0], limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search chunks", goerr.V("limit", limit))
	}
	return chunks, nil
}

// Answer retrieves context for query and asks the chat model to answer from it.
// ErrNoContext is returned when nothing is retrieved.
func (uc *UseCase) Answer(ctx context.Context, query string) (*Answer, error) {
	if uc.chat == nil {
		return nil, goerr.New("chat model is not configured")
	}

	chunks, err := uc.Retrieve(ctx, query, uc.limit)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, goerr.Wrap(ErrNoContext, "nothing to answer from", goerr.V("query", query))
	}

	req := &model.ChatRequest{
		Messages: []*model.Message{
			model.NewUserMessage(BuildPrompt(query, chunks)),
		},
	}
	resp, err := uc.chat.Chat(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate answer")
	}

	return &Answer{Text: resp.Content, Sources: chunks}, nil
}

// BuildPrompt assembles the augmented prompt
func BuildPrompt(query string, chunks []*model.Chunk) string {
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	return fmt.Sprintf("%s\n\nContext: %s\n\nQuestion: %s", answerInstruction, strings.Join(contents, "\n\n"), query)
}
