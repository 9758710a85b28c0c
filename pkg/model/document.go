package model

import (
	"fmt"
	"time"
)

type ChunkID string

// NewChunkID returns the deterministic ID of the index-th chunk of source
func NewChunkID(source string, index int) ChunkID {
	return ChunkID(fmt.Sprintf("%s_chunk_%d", source, index))
}

// Chunk is a piece of a source document stored with its embedding
type Chunk struct {
	ID        ChunkID
	Source    string
	Index     int
	Content   string
	Embedding []float32
	Metadata  map[string]any
	CreatedAt time.Time

	// Distance is the cosine distance to the query vector. It is set only by searches.
	Distance float64
}

// Reference returns a short human readable reference such as "manual.pdf#3"
func (c *Chunk) Reference() string {
	if c.Source == "" {
		return string(c.ID)
	}
	return fmt.Sprintf("%s#%d", c.Source, c.Index)
}
