package rag

import (
	"context"
	"sort"

	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
)

// Scored is a document with its cosine similarity to a query
type Scored struct {
	Content string
	Score   float64
}

// Pair is the similarity of texts[I] and texts[J]
type Pair struct {
	I, J       int
	Similarity float64
	Distance   float64
}

// Rank scores every document against query with a linear cosine scan and
// returns them all, highest score first. Ties keep input order.
func (uc *UseCase) Rank(ctx context.Context, query string, documents []string) ([]*Scored, error) {
	if len(documents) == 0 {
		return nil, goerr.New("no documents to rank")
	}

	vectors, err := uc.embedder.Embed(ctx, append([]string{query}, documents...))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query and documents", goerr.V("documents", len(documents)))
	}

	results := make([]*Scored, len(documents))
	for i, doc := range documents {
		results[i] = &Scored{
			Content: doc,
			Score:   repository.CosineSimilarity(vectors[0], vectors[i+1]),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Similarity returns the cosine similarity and distance of every pair i<j
func (uc *UseCase) Similarity(ctx context.Context, texts []string) ([]*Pair, error) {
	if len(texts) < 2 {
		return nil, goerr.New("at least two texts are required", goerr.V("count", len(texts)))
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed texts")
	}

	pairs := make([]*Pair, 0, len(texts)*(len(texts)-1)/2)
	for i := range texts {
		for j := i + 1; j < len(texts); j++ {
			sim := repository.CosineSimilarity(vectors[i], vectors[j])
			pairs = append(pairs, &Pair{I: i, J: j, Similarity: sim, Distance: 1 - sim})
		}
	}
	return pairs, nil
}
