// Package vectorindex keeps document embeddings in an in-process chromem-go
// collection and answers cosine nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/knowledge-hub/server/internal/utils"
)

const collectionName = "documents"

var errNoEmbedder = errors.New("vector index only accepts precomputed embeddings")

// Match is a single nearest-neighbour hit.
type Match struct {
	ID    string
	Score float64
}

// Index wraps a chromem collection. chromem is safe for concurrent use on its
// own; mu additionally keeps Count and QueryEmbedding consistent with each other
// while writers add or remove documents.
type Index struct {
	mu         sync.RWMutex
	collection *chromem.Collection
}

func New() (*Index, error) {
	db := chromem.NewDB()
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbedder
	}
	collection, err := db.GetOrCreateCollection(collectionName, map[string]string{"hnsw:space": "cosine"}, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection: %w", err)
	}
	return &Index{collection: collection}, nil
}

// Upsert stores vec under id, replacing any previous vector. Empty or all-zero
// vectors are not searchable, so they remove the id instead.
func (i *Index) Upsert(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 || utils.IsZero(vec) {
		return i.Remove(ctx, id)
	}
	if !utils.ValidEmbedding(vec) {
		return fmt.Errorf("embedding for %s has %d dimensions, want %d", id, len(vec), utils.EmbeddingDimension)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	doc := chromem.Document{
		ID:        id,
		Embedding: append([]float32(nil), vec...),
	}
	if err := i.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index document %s: %w", id, err)
	}
	return nil
}

func (i *Index) Remove(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to remove document %s from index: %w", id, err)
	}
	return nil
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collection.Count()
}

// Query returns up to candidates nearest documents to vec, ordered by cosine
// similarity descending and then by id ascending. The whole collection is
// scored before the pool is cut, so equal scores at the cutoff always keep the
// lowest ids.
func (i *Index) Query(ctx context.Context, vec []float32, candidates int) ([]Match, error) {
	if candidates <= 0 || len(vec) == 0 || utils.IsZero(vec) {
		return nil, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	n := i.collection.Count()
	if n == 0 {
		return nil, nil
	}

	// chromem picks among equal scores in arbitrary order.
	results, err := i.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: r.ID, Score: float64(r.Similarity)})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].ID < matches[b].ID
	})
	if len(matches) > candidates {
		matches = matches[:candidates]
	}
	return matches, nil
}
