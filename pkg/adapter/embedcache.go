package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

const defaultEmbeddingCacheTTL = 7 * 24 * time.Hour

// EmbeddingCache is an Embedder that keeps vectors in Redis keyed by model and text digest
type EmbeddingCache struct {
	base      Embedder
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

type EmbeddingCacheOption func(*EmbeddingCache)

func WithEmbeddingCacheTTL(ttl time.Duration) EmbeddingCacheOption {
	return func(c *EmbeddingCache) {
		c.ttl = ttl
	}
}

// NewEmbeddingCache wraps base. namespace should identify the embedding model.
func NewEmbeddingCache(base Embedder, client redis.UniversalClient, namespace string, opts ...EmbeddingCacheOption) *EmbeddingCache {
	c := &EmbeddingCache{
		base:      base,
		client:    client,
		namespace: namespace,
		ttl:       defaultEmbeddingCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedisClient connects to the Redis server at url (redis://host:port/db)
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse redis URL")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", opts.Addr))
	}
	return client, nil
}

func (c *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

// Embed returns cached vectors and computes the missing ones with the wrapped Embedder.
// Cache failures are logged and do not fail the call.
func (c *EmbeddingCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, goerr.New("input is empty")
	}

	logger := logging.From(ctx)
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	vectors := make([][]float32, len(texts))
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("failed to read embedding cache", "error", err)
		cached = nil
	}

	var missIdx []int
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok {
				var vec []float32
				if err := json.Unmarshal([]byte(s), &vec); err == nil {
					vectors[i] = vec
					continue
				}
			}
		}
		missIdx = append(missIdx, i)
	}

	if len(missIdx) == 0 {
		return vectors, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}

	computed, err := c.base.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missTexts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("expected", len(missTexts)),
			goerr.V("actual", len(computed)))
	}

	pipe := c.client.Pipeline()
	for j, i := range missIdx {
		vectors[i] = computed[j]
		raw, err := json.Marshal(computed[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("failed to write embedding cache", "error", err)
	}

	logger.Debug("embedding cache", "hit", len(texts)-len(missIdx), "miss", len(missIdx))
	return vectors, nil
}
