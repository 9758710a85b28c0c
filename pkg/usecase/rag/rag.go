package rag

import (
	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultChunkSize = 1000
	DefaultBatchSize = 100
	DefaultLimit     = 1
)

// ErrNoContext is returned by Answer when retrieval finds nothing
var ErrNoContext = goerr.New("no relevant context found")

// UseCase provides ingest, retrieval and answer operations
type UseCase struct {
	repo      repository.Repository
	embedder  adapter.Embedder
	chat      adapter.ChatModel
	chunkSize int
	batchSize int
	limit     int
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithChatModel sets the model used by Answer
func WithChatModel(chat adapter.ChatModel) Option {
	return func(uc *UseCase) {
		uc.chat = chat
	}
}

// WithChunkSize sets the chunk size in runes
func WithChunkSize(size int) Option {
	return func(uc *UseCase) {
		uc.chunkSize = size
	}
}

// WithBatchSize sets how many chunks are embedded per request
func WithBatchSize(size int) Option {
	return func(uc *UseCase) {
		uc.batchSize = size
	}
}

// WithLimit sets how many chunks Answer retrieves
func WithLimit(limit int) Option {
	return func(uc *UseCase) {
		uc.limit = limit
	}
}

// New creates a RAG UseCase. repo may be nil when only Rank and Similarity are used.
func New(repo repository.Repository, embedder adapter.Embedder, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:      repo,
		embedder:  embedder,
		chunkSize: DefaultChunkSize,
		batchSize: DefaultBatchSize,
		limit:     DefaultLimit,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.batchSize <= 0 {
		uc.batchSize = DefaultBatchSize
	}
	if uc.limit <= 0 {
		uc.limit = DefaultLimit
	}

	return uc
}

func (uc *UseCase) requireRepo() error {
	if uc.repo == nil {
		return goerr.New("repository is not configured")
	}
	return nil
}
