package adapter

import (
	"context"

	"github.com/m-mizutani/burrow/pkg/model"
)

// ChatModel is a chat completion API
type ChatModel interface {
	// Chat sends the request and returns a single assistant message, which may carry tool calls
	Chat(ctx context.Context, req *model.ChatRequest) (*model.Message, error)

	// Stream sends the request and calls fn with each text delta in order.
	// Streaming stops at the first error returned by fn.
	Stream(ctx context.Context, req *model.ChatRequest, fn func(delta string) error) error
}

// Embedder converts texts into embedding vectors
type Embedder interface {
	// Embed returns one vector per input text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LLM is a provider offering both chat and embeddings
type LLM interface {
	ChatModel
	Embedder
}
